// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// DefaultMaxFrameSize bounds the body of a single control frame.
const DefaultMaxFrameSize = 64 << 20

// Byte orders of the two framing variants.
var (
	PipeByteOrder   binary.ByteOrder = binary.LittleEndian
	SocketByteOrder binary.ByteOrder = binary.BigEndian
)

// FrameReader reads length-prefixed frames: a 4-byte unsigned length in the
// configured byte order followed by exactly that many body bytes.
type FrameReader struct {
	r       io.Reader
	order   binary.ByteOrder
	maxSize uint32
	header  [4]byte
}

// NewFrameReader returns a reader with DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, order binary.ByteOrder) *FrameReader {
	return &FrameReader{r: r, order: order, maxSize: DefaultMaxFrameSize}
}

// SetMaxFrameSize changes the frame size limit. Zero disables the check.
func (fr *FrameReader) SetMaxFrameSize(n uint32) {
	fr.maxSize = n
}

// ReadFrame returns the next frame body. It returns io.EOF when the stream
// ends cleanly at a frame boundary and ErrConnectionAborted when it ends
// inside a frame.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, abortedOr(err)
	}

	size := fr.order.Uint32(fr.header[:])
	if fr.maxSize > 0 && size > fr.maxSize {
		return nil, protocolErrorf("frame of %d bytes exceeds the limit of %d bytes", size, fr.maxSize)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return nil, abortedOr(err)
	}
	return body, nil
}

// ReadRaw fills buf from the underlying stream. It is used for the binary
// data that follows a read response on the same stream.
func (fr *FrameReader) ReadRaw(buf []byte) error {
	return ReadRaw(fr.r, buf)
}

// ReadRaw reads exactly len(buf) bytes of unframed data.
func ReadRaw(r io.Reader, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		return abortedOr(err)
	}
	return nil
}

func abortedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrConnectionAborted
	}
	return err
}

// FrameWriter writes length-prefixed frames. It is safe for concurrent use;
// each frame, and each Lock/Unlock section, reaches the stream unsplit.
type FrameWriter struct {
	mu    sync.Mutex
	w     io.Writer
	order binary.ByteOrder
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer, order binary.ByteOrder) *FrameWriter {
	return &FrameWriter{w: w, order: order}
}

// WriteFrame writes one frame.
func (fw *FrameWriter) WriteFrame(body []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.writeFrameLocked(body)
}

// WriteFrameWithRaw writes one frame followed by unframed payloads with no
// other frame in between.
func (fw *FrameWriter) WriteFrameWithRaw(body []byte, raw ...[]byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.writeFrameLocked(body); err != nil {
		return err
	}
	for _, p := range raw {
		if _, err := fw.w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

func (fw *FrameWriter) writeFrameLocked(body []byte) error {
	buf := make([]byte, 4+len(body))
	fw.order.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err := fw.w.Write(buf)
	return err
}
