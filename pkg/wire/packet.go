// Package wire defines the on-the-wire structures for the streamcore media
// transport protocol: packets, encrypted envelopes, and frame payloads.
package wire

import (
	"encoding/binary"
	"errors"
)

// StreamType identifies which logical stream a packet belongs to.
type StreamType uint8

const (
	StreamVideo StreamType = 1
	StreamAudio StreamType = 2
	StreamMessage StreamType = 3
)

func (s StreamType) String() string {
	switch s {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	case StreamMessage:
		return "message"
	default:
		return "unknown"
	}
}

const (
	// MaxPayloadSize bounds a single fragment so it fits within common MTUs
	// with AES-GCM overhead included.
	MaxPayloadSize = 1200

	// packetHeaderSize is the size of the plaintext Packet header preceding
	// the payload, per spec.md §6.
	packetHeaderSize = 1 + 1 + 1 + 1 + 4 + 2 + 2 + 2 + 2
)

var (
	ErrPacketTooShort   = errors.New("wire: packet too short")
	ErrPayloadTooLarge  = errors.New("wire: payload exceeds MaxPayloadSize")
	ErrIndexOutOfRange  = errors.New("wire: index >= num_indices")
	ErrFECCountInvalid  = errors.New("wire: num_fec_indices >= num_indices")
)

// Packet is the smallest transmittable unit: one fragment of one frame.
type Packet struct {
	StreamType     StreamType
	IsNackResponse bool
	IsStreamStart  bool
	FrameID        uint32
	Index          uint16
	NumIndices     uint16 // N_original + N_fec
	NumFECIndices  uint16
	Payload        []byte
}

// NumOriginal returns N_original for the packet's frame.
func (p *Packet) NumOriginal() uint16 {
	return p.NumIndices - p.NumFECIndices
}

// Validate enforces the wire-level sanity checks from spec.md §6 and §4.1.
func (p *Packet) Validate() error {
	if len(p.Payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	if p.Index >= p.NumIndices {
		return ErrIndexOutOfRange
	}
	if p.NumFECIndices >= p.NumIndices {
		return ErrFECCountInvalid
	}
	return nil
}

// Marshal encodes the packet into its little-endian plaintext wire form.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, packetHeaderSize+len(p.Payload))
	buf[0] = byte(p.StreamType)
	if p.IsNackResponse {
		buf[1] = 1
	}
	if p.IsStreamStart {
		buf[2] = 1
	}
	buf[3] = 0 // padding
	binary.LittleEndian.PutUint32(buf[4:8], p.FrameID)
	binary.LittleEndian.PutUint16(buf[8:10], p.Index)
	binary.LittleEndian.PutUint16(buf[10:12], p.NumIndices)
	binary.LittleEndian.PutUint16(buf[12:14], p.NumFECIndices)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(len(p.Payload)))
	copy(buf[16:], p.Payload)
	return buf
}

// Unmarshal parses a plaintext Packet from raw bytes, validating bounds
// before trusting any field. Returns ErrPacketTooShort / ErrPayloadTooLarge
// / ErrIndexOutOfRange / ErrFECCountInvalid on malformed input — callers
// drop the packet silently per spec.md §7.
func Unmarshal(data []byte) (*Packet, error) {
	if len(data) < packetHeaderSize {
		return nil, ErrPacketTooShort
	}
	payloadSize := int(binary.LittleEndian.Uint16(data[14:16]))
	if payloadSize < 0 || payloadSize > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	if len(data) < packetHeaderSize+payloadSize {
		return nil, ErrPacketTooShort
	}
	p := &Packet{
		StreamType:     StreamType(data[0]),
		IsNackResponse: data[1] != 0,
		IsStreamStart:  data[2] != 0,
		FrameID:        binary.LittleEndian.Uint32(data[4:8]),
		Index:          binary.LittleEndian.Uint16(data[8:10]),
		NumIndices:     binary.LittleEndian.Uint16(data[10:12]),
		NumFECIndices:  binary.LittleEndian.Uint16(data[12:14]),
	}
	p.Payload = make([]byte, payloadSize)
	copy(p.Payload, data[16:16+payloadSize])
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
