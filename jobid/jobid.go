// Package jobid packs the server agent, block height, epoch number and server
// id into the opaque job id carried by notify and submit messages:
//
//	server_agent "/" hex(height u32 LE) "_" hex(epoch u32 LE) "_" server_id
package jobid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidJobID is wrapped by every Parse failure.
var ErrInvalidJobID = errors.New("invalid job id")

type JobID struct {
	ServerAgent string
	Height      uint32
	Epoch       uint32
	ServerID    string
}

// New renders a job id. serverAgent must be non-empty and free of '/'.
func New(serverAgent string, height, epoch uint32, serverID string) string {
	return JobID{ServerAgent: serverAgent, Height: height, Epoch: epoch, ServerID: serverID}.String()
}

func (j JobID) String() string {
	return j.ServerAgent + "/" + hexLE(j.Height) + "_" + hexLE(j.Epoch) + "_" + j.ServerID
}

// Validate reports whether j survives a String/Parse round trip.
func (j JobID) Validate() error {
	if strings.TrimSpace(j.ServerAgent) == "" {
		return fmt.Errorf("%w: empty server agent", ErrInvalidJobID)
	}
	if strings.Contains(j.ServerAgent, "/") {
		return fmt.Errorf("%w: server agent %q contains '/'", ErrInvalidJobID, j.ServerAgent)
	}
	if j.ServerID == "" {
		return fmt.Errorf("%w: empty server id", ErrInvalidJobID)
	}
	return nil
}

// Parse splits a job id back into its parts. The server id is everything
// after the second '_' of the remainder, so it may itself contain '_'.
func Parse(s string) (JobID, error) {
	agent, rest, ok := strings.Cut(s, "/")
	if !ok || strings.TrimSpace(agent) == "" || rest == "" {
		return JobID{}, fmt.Errorf("%w: %q", ErrInvalidJobID, s)
	}
	parts := strings.SplitN(rest, "_", 3)
	if len(parts) != 3 || parts[2] == "" {
		return JobID{}, fmt.Errorf("%w: %q", ErrInvalidJobID, s)
	}
	height, err := parseHexLE(parts[0])
	if err != nil {
		return JobID{}, fmt.Errorf("%w: height: %v", ErrInvalidJobID, err)
	}
	epoch, err := parseHexLE(parts[1])
	if err != nil {
		return JobID{}, fmt.Errorf("%w: epoch: %v", ErrInvalidJobID, err)
	}
	return JobID{ServerAgent: agent, Height: height, Epoch: epoch, ServerID: parts[2]}, nil
}

func hexLE(v uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return hex.EncodeToString(b[:])
}

func parseHexLE(s string) (uint32, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	if len(b) != 4 {
		return 0, fmt.Errorf("want 4 bytes, got %d", len(b))
	}
	return binary.LittleEndian.Uint32(b), nil
}
