package protocol

import (
	"errors"
	"io"
)

const readChunk = 512

// Decoder reads messages from a byte stream through a Codec.
type Decoder struct {
	r     io.Reader
	codec *Codec
	chunk []byte
	err   error
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, codec: NewCodec(), chunk: make([]byte, readChunk)}
}

// Decode blocks until a full message is read. Messages already buffered are
// returned before a read error is reported.
func (d *Decoder) Decode() (Message, error) {
	for {
		msg, err := d.codec.Decode()
		if err != nil || msg != nil {
			return msg, err
		}
		if d.err != nil {
			err := d.err
			d.err = nil
			if errors.Is(err, io.EOF) && d.codec.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.codec.Feed(d.chunk[:n])
		}
		d.err = err
	}
}

// Encoder writes framed messages to w.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(m Message) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}
