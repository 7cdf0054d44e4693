package spawn

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize caps a single encoded envelope.
const maxFrameSize = 10 * 1024 * 1024

// writeFrame writes env as a 4-byte big-endian length followed by its JSON.
func writeFrame(w io.Writer, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameSize, len(body))
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	_, err = w.Write(frame)
	return err
}

func readFrame(r io.Reader) (*Envelope, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr)
	if length == 0 || length > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameSize, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
