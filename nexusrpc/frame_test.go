// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package nexusrpc

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/rand/v2"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, order := range []struct {
		name   string
		layout []byte
		fw     func(io.Writer) *FrameWriter
		fr     func(io.Reader) *FrameReader
	}{
		{
			name:   "pipe",
			layout: []byte{5, 0, 0, 0},
			fw:     func(w io.Writer) *FrameWriter { return NewFrameWriter(w, PipeByteOrder) },
			fr:     func(r io.Reader) *FrameReader { return NewFrameReader(r, PipeByteOrder) },
		},
		{
			name:   "socket",
			layout: []byte{0, 0, 0, 5},
			fw:     func(w io.Writer) *FrameWriter { return NewFrameWriter(w, SocketByteOrder) },
			fr:     func(r io.Reader) *FrameReader { return NewFrameReader(r, SocketByteOrder) },
		},
	} {
		t.Run(order.name, func(t *testing.T) {
			var buf bytes.Buffer
			fw := order.fw(&buf)
			require.NoError(t, fw.WriteFrame([]byte("hello")))
			require.NoError(t, fw.WriteFrame(nil))
			assert.Equal(t, order.layout, buf.Bytes()[:4])

			fr := order.fr(&buf)
			body, err := fr.ReadFrame()
			require.NoError(t, err)
			assert.Equal(t, "hello", string(body))

			body, err = fr.ReadFrame()
			require.NoError(t, err)
			assert.Empty(t, body)

			_, err = fr.ReadFrame()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestFrameSequenceRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	frames := make([][]byte, 200)
	for i := range frames {
		n := rng.IntN(4096)
		if i%17 == 0 {
			n = 0
		}
		frames[i] = make([]byte, n)
		for j := range frames[i] {
			frames[i][j] = byte(rng.Uint32())
		}
	}

	for _, order := range []binary.ByteOrder{PipeByteOrder, SocketByteOrder} {
		t.Run(order.String(), func(t *testing.T) {
			var buf bytes.Buffer
			fw := NewFrameWriter(&buf, order)
			for _, f := range frames {
				require.NoError(t, fw.WriteFrame(f))
			}

			fr := NewFrameReader(iotest.OneByteReader(&buf), order)
			for i, want := range frames {
				got, err := fr.ReadFrame()
				require.NoError(t, err, "frame %d", i)
				require.Len(t, got, len(want), "frame %d", i)
				require.True(t, bytes.Equal(want, got), "frame %d", i)
			}
			_, err := fr.ReadFrame()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestFrameTruncatedIsAborted(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte{10, 0, 0, 0, 'a', 'b'}), PipeByteOrder)
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, ErrConnectionAborted)

	fr = NewFrameReader(bytes.NewReader([]byte{10, 0}), PipeByteOrder)
	_, err = fr.ReadFrame()
	assert.ErrorIs(t, err, ErrConnectionAborted)
}

func TestFrameSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewFrameWriter(&buf, PipeByteOrder).WriteFrame(make([]byte, 32)))

	fr := NewFrameReader(&buf, PipeByteOrder)
	fr.SetMaxFrameSize(16)
	_, err := fr.ReadFrame()
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestWriteFrameWithRaw(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf, PipeByteOrder)
	require.NoError(t, fw.WriteFrameWithRaw([]byte("{}"), []byte{1, 2, 3}, []byte{0, 1}))

	fr := NewFrameReader(&buf, PipeByteOrder)
	body, err := fr.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))

	data := make([]byte, 3)
	status := make([]byte, 2)
	require.NoError(t, fr.ReadRaw(data))
	require.NoError(t, fr.ReadRaw(status))
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, []byte{0, 1}, status)

	assert.ErrorIs(t, fr.ReadRaw(make([]byte, 1)), ErrConnectionAborted)
	assert.NoError(t, fr.ReadRaw(nil))
}
