package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Packet types. TypeExecCommand and TypeAuthResponse share the value 2; which
// one a packet is depends on the phase of the exchange.
const (
	TypeResponseValue int32 = 0
	TypeExecCommand   int32 = 2
	TypeAuthResponse  int32 = 2
	TypeAuth          int32 = 3
)

// AuthFailedID is the request id a server echoes when authentication fails.
const AuthFailedID int32 = -1

const (
	headerSize = 8 // request id + type
	padSize    = 2 // body terminator + empty trailing string
	minFrame   = headerSize + padSize
	// MaxBodySize bounds a single frame against corrupt or hostile length
	// prefixes. Modded servers reply with bodies well beyond 4096 bytes.
	MaxBodySize = 1 << 20
	maxFrame    = MaxBodySize + minFrame
)

// Packet is one RCON frame.
type Packet struct {
	RequestID int32
	Type      int32
	Body      string
}

// MarshalBinary encodes the packet including its length prefix.
func (p Packet) MarshalBinary() ([]byte, error) {
	if bytes.IndexByte([]byte(p.Body), 0) >= 0 {
		return nil, fmt.Errorf("%w: body contains NUL byte", ErrMalformed)
	}
	length := headerSize + len(p.Body) + padSize
	buf := make([]byte, 4+length)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(length))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.RequestID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Type))
	copy(buf[12:], p.Body)
	// trailing two bytes stay zero
	return buf, nil
}

// WritePacket encodes p and writes it to w in one call.
func WritePacket(w io.Writer, p Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadPacket reads exactly one frame from r. Partial reads are reassembled;
// EOF before the declared length is reported as io.ErrUnexpectedEOF.
func ReadPacket(r io.Reader) (Packet, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Packet{}, fmt.Errorf("read length: %w", err)
	}
	length := int32(binary.LittleEndian.Uint32(head[:]))
	if length < minFrame || length > maxFrame {
		return Packet{}, fmt.Errorf("%w: frame length %d", ErrMalformed, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Packet{}, fmt.Errorf("read body: %w", err)
	}

	return Packet{
		RequestID: int32(binary.LittleEndian.Uint32(data[0:4])),
		Type:      int32(binary.LittleEndian.Uint32(data[4:8])),
		Body:      string(data[headerSize : len(data)-padSize]),
	}, nil
}
