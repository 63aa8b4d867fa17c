// Package rcon implements the Source RCON protocol used by Minecraft
// servers for remote administration, and a session manager that keeps one
// authenticated console session per configured server.
package rcon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet type identifiers. The auth response reuses the command type.
const (
	typeResponse = 0
	typeCommand  = 2
	typeAuth     = 3
)

// Wire framing limits. Length covers id + type + body + two NUL bytes.
const (
	headerSize    = 10
	maxPacketSize = 4096 + headerSize
)

// authFailedID is echoed instead of the request ID when the shared secret
// is rejected.
const authFailedID = -1

var errPacketSize = errors.New("rcon: packet size out of range")

// packet is one RCON frame: little-endian int32 length, request ID and
// type, followed by a NUL-terminated body and a trailing NUL.
type packet struct {
	ID   int32
	Type int32
	Body string
}

func writePacket(w io.Writer, p packet) error {
	size := int32(len(p.Body) + headerSize)
	if size > maxPacketSize {
		return fmt.Errorf("%w: %d", errPacketSize, size)
	}
	buf := make([]byte, 0, size+4)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.ID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Type))
	buf = append(buf, p.Body...)
	buf = append(buf, 0, 0)

	_, err := w.Write(buf)
	return err
}

func readPacket(r io.Reader) (packet, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return packet{}, err
	}

	size := int32(binary.LittleEndian.Uint32(sizeBuf[:]))
	if size < headerSize || size > maxPacketSize {
		return packet{}, fmt.Errorf("%w: %d", errPacketSize, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return packet{}, err
	}

	return packet{
		ID:   int32(binary.LittleEndian.Uint32(payload[0:4])),
		Type: int32(binary.LittleEndian.Uint32(payload[4:8])),
		Body: string(payload[8 : size-2]),
	}, nil
}
