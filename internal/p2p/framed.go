// Package p2p carries the relay-facing transport: the libp2p host, the
// varint-framed stream and the callback-dispatched protocol stream that
// runs on top of it.
package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxVarintLen is the longest accepted length prefix. Ten bytes covers a
// full uint64; anything longer is malformed or malicious.
const maxVarintLen = 10

var (
	// ErrInvalidVarint reports a length prefix longer than ten bytes.
	ErrInvalidVarint = errors.New("p2p: invalid varint length prefix")
	// ErrQueueFull reports a full outbound queue; the caller should treat
	// it as back-pressure, not retry in a tight loop.
	ErrQueueFull = errors.New("p2p: outbound queue full")
	// ErrShutdown reports a protocol stream whose writer has stopped.
	ErrShutdown = errors.New("p2p: protocol stream shut down")
)

// FramedStream delimits messages on a reliable byte stream with an
// unsigned-varint length prefix. The read and write halves are guarded
// independently so a send and a receive can overlap; concurrent sends are
// serialized so frames never interleave on the wire.
type FramedStream struct {
	readMu  sync.Mutex
	r       io.Reader
	writeMu sync.Mutex
	w       io.Writer
}

// NewFramedStream wraps a bidirectional byte stream.
func NewFramedStream(rw io.ReadWriter) *FramedStream {
	return &FramedStream{r: rw, w: rw}
}

// Send writes one frame: the varint-encoded payload length followed by the
// payload bytes.
func (s *FramedStream) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(data)))

	if _, err := s.w.Write(prefix[:n]); err != nil {
		return fmt.Errorf("p2p: write length prefix: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("p2p: write payload: %w", err)
	}
	return nil
}

// Receive reads one frame and returns its payload. A length prefix longer
// than ten bytes fails with ErrInvalidVarint; a short read at either phase
// surfaces the transport error.
func (s *FramedStream) Receive() ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	var prefix []byte
	var one [1]byte
	for {
		if _, err := io.ReadFull(s.r, one[:]); err != nil {
			return nil, fmt.Errorf("p2p: read length prefix: %w", err)
		}
		prefix = append(prefix, one[0])

		// Last byte of the varint has the continuation bit clear.
		if one[0]&0x80 == 0 {
			break
		}
		if len(prefix) > maxVarintLen {
			return nil, ErrInvalidVarint
		}
	}

	length, n := binary.Uvarint(prefix)
	if n <= 0 {
		return nil, ErrInvalidVarint
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(s.r, payload); err != nil {
		return nil, fmt.Errorf("p2p: read payload: %w", err)
	}
	return payload, nil
}
