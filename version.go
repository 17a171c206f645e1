package zkpool

import (
	"fmt"

	"github.com/coreos/go-semver/semver"
)

// ProtocolPrefix starts every user agent this module builds.
const ProtocolPrefix = "ZKPool"

const (
	MinSupportedVersion = "0.2.0"
	MaxSupportedVersion = "0.2.9"
	DefaultVersion      = "0.2.0"
)

// VersionGate decides which peer protocol versions are accepted during
// subscribe. It is built once at startup and handed to whoever negotiates.
type VersionGate struct {
	Min     semver.Version
	Max     semver.Version
	Current semver.Version
}

// NewVersionGate builds a gate over the supported range with current as the
// version this process speaks.
func NewVersionGate(current string) (*VersionGate, error) {
	if current == "" {
		current = DefaultVersion
	}
	v, err := semver.NewVersion(current)
	if err != nil {
		return nil, fmt.Errorf("protocol version %q: %w", current, err)
	}
	g := &VersionGate{
		Min:     *semver.New(MinSupportedVersion),
		Max:     *semver.New(MaxSupportedVersion),
		Current: *v,
	}
	if !g.IsSupported(*v) {
		return nil, fmt.Errorf("protocol version %s outside supported range [%s, %s]", v, g.Min, g.Max)
	}
	return g, nil
}

// IsSupported reports Min <= v <= Max on (major, minor, patch).
func (g *VersionGate) IsSupported(v semver.Version) bool {
	return compare(g.Min, v) <= 0 && compare(v, g.Max) <= 0
}

// Check parses a peer's version string and rejects it when unsupported.
func (g *VersionGate) Check(raw string) (semver.Version, error) {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return semver.Version{}, fmt.Errorf("invalid protocol version %q: %w", raw, err)
	}
	if !g.IsSupported(*v) {
		return *v, fmt.Errorf("unsupported protocol version %s, want [%s, %s]", v, g.Min, g.Max)
	}
	return *v, nil
}

// UserAgent names a peer role, e.g. UserAgent("Miner") = "ZKPool_Miner".
func UserAgent(role string) string {
	return ProtocolPrefix + "_" + role
}

func compare(a, b semver.Version) int {
	switch {
	case a.Major != b.Major:
		return sign(a.Major - b.Major)
	case a.Minor != b.Minor:
		return sign(a.Minor - b.Minor)
	default:
		return sign(a.Patch - b.Patch)
	}
}

func sign(d int64) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	}
	return 0
}
