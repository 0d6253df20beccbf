package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame layout, big endian:
//
//	u32  length (header + payload, excluding this field)
//	u8   opcode
//	u8   flags
//	u64  request id
//	u32  deadline, milliseconds (0 = server default; unused on responses)
//	...  msgpack payload
//
// The framing itself is hand-rolled; payload encoding is msgpack. See
// DESIGN.md for why no pack library covers this layer.
const (
	headerSize   = 14
	maxFrameSize = 4 << 20

	flagError = 1 << 0
)

type frame struct {
	op         Op
	flags      byte
	id         uint64
	deadlineMS uint32
	payload    []byte
}

func (f *frame) isError() bool {
	return f.flags&flagError != 0
}

func writeFrame(w io.Writer, f *frame) error {
	length := headerSize + len(f.payload)
	if length > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", length)
	}
	header := make([]byte, 4+headerSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(length))
	header[4] = byte(f.op)
	header[5] = f.flags
	binary.BigEndian.PutUint64(header[6:14], f.id)
	binary.BigEndian.PutUint32(header[14:18], f.deadlineMS)
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(f.payload) > 0 {
		if _, err := w.Write(f.payload); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r io.Reader) (*frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < headerSize || length > maxFrameSize {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &frame{
		op:         Op(buf[0]),
		flags:      buf[1],
		id:         binary.BigEndian.Uint64(buf[2:10]),
		deadlineMS: binary.BigEndian.Uint32(buf[10:14]),
		payload:    buf[headerSize:],
	}, nil
}
