package wire

import (
	"encoding/binary"
	"errors"
)

const (
	ivSize  = 12
	tagSize = 16

	// udpEnvelopeHeaderSize is the AesMetadata preceding UDP ciphertext:
	// iv(12) + tag(16) + size(4), per spec.md §6.
	udpEnvelopeHeaderSize = ivSize + tagSize + 4

	// MaxTCPPayloadSize bounds declared_payload_size on the TCP association.
	MaxTCPPayloadSize = 1 << 30 // 1 GiB, per spec.md §4.2
)

var (
	ErrEnvelopeTooShort   = errors.New("wire: encrypted envelope too short")
	ErrDeclaredSizeOutOfRange = errors.New("wire: declared_payload_size out of range")
)

// UDPEnvelope is the wire form of an encrypted UDP packet:
// AesMetadata{iv,tag,size} || ciphertext.
type UDPEnvelope struct {
	IV         [ivSize]byte
	Tag        [tagSize]byte
	Ciphertext []byte
}

// Marshal encodes the envelope for transmission.
func (e *UDPEnvelope) Marshal() []byte {
	buf := make([]byte, udpEnvelopeHeaderSize+len(e.Ciphertext))
	copy(buf[0:ivSize], e.IV[:])
	copy(buf[ivSize:ivSize+tagSize], e.Tag[:])
	binary.LittleEndian.PutUint32(buf[ivSize+tagSize:udpEnvelopeHeaderSize], uint32(len(e.Ciphertext)))
	copy(buf[udpEnvelopeHeaderSize:], e.Ciphertext)
	return buf
}

// UnmarshalUDPEnvelope parses an encrypted envelope. A truncated or
// internally inconsistent envelope is reported as an error; per spec.md §7
// the caller must drop it silently rather than propagate the condition.
func UnmarshalUDPEnvelope(data []byte) (*UDPEnvelope, error) {
	if len(data) < udpEnvelopeHeaderSize {
		return nil, ErrEnvelopeTooShort
	}
	e := &UDPEnvelope{}
	copy(e.IV[:], data[0:ivSize])
	copy(e.Tag[:], data[ivSize:ivSize+tagSize])
	size := binary.LittleEndian.Uint32(data[ivSize+tagSize : udpEnvelopeHeaderSize])
	if int(size) != len(data)-udpEnvelopeHeaderSize {
		return nil, ErrEnvelopeTooShort
	}
	e.Ciphertext = make([]byte, size)
	copy(e.Ciphertext, data[udpEnvelopeHeaderSize:])
	return e, nil
}

// TCPEnvelope is the wire form of a framed TCP message:
// AesMetadata || declared_payload_size: i32 || ciphertext.
type TCPEnvelope struct {
	IV                  [ivSize]byte
	Tag                 [tagSize]byte
	DeclaredPayloadSize int32
	Ciphertext          []byte
}

const tcpEnvelopeHeaderSize = ivSize + tagSize + 4

// Marshal encodes the TCP envelope for transmission.
func (e *TCPEnvelope) Marshal() []byte {
	buf := make([]byte, tcpEnvelopeHeaderSize+len(e.Ciphertext))
	copy(buf[0:ivSize], e.IV[:])
	copy(buf[ivSize:ivSize+tagSize], e.Tag[:])
	binary.LittleEndian.PutUint32(buf[ivSize+tagSize:tcpEnvelopeHeaderSize], uint32(e.DeclaredPayloadSize))
	copy(buf[tcpEnvelopeHeaderSize:], e.Ciphertext)
	return buf
}

// TCPEnvelopeHeaderSize is the number of bytes preceding the ciphertext
// on the wire: iv(12) + tag(16) + declared_payload_size(4).
const TCPEnvelopeHeaderSize = tcpEnvelopeHeaderSize

// UnmarshalTCPEnvelopeHeader parses the fixed-size header preceding a
// TCP-framed ciphertext, without requiring the ciphertext itself to be
// buffered yet. Callers read DeclaredPayloadSize further bytes off the
// stream once ValidateDeclaredSize has accepted it.
func UnmarshalTCPEnvelopeHeader(data []byte) (iv [ivSize]byte, tag [tagSize]byte, declaredPayloadSize int32, err error) {
	if len(data) < tcpEnvelopeHeaderSize {
		return iv, tag, 0, ErrEnvelopeTooShort
	}
	copy(iv[:], data[0:ivSize])
	copy(tag[:], data[ivSize:ivSize+tagSize])
	declaredPayloadSize = int32(binary.LittleEndian.Uint32(data[ivSize+tagSize : tcpEnvelopeHeaderSize]))
	return iv, tag, declaredPayloadSize, nil
}

// UnmarshalTCPEnvelope parses a complete framed TCP message already
// buffered in full (header plus declared_payload_size bytes of
// ciphertext).
func UnmarshalTCPEnvelope(data []byte) (*TCPEnvelope, error) {
	iv, tag, declared, err := UnmarshalTCPEnvelopeHeader(data)
	if err != nil {
		return nil, err
	}
	if err := ValidateDeclaredSize(declared); err != nil {
		return nil, err
	}
	if len(data) < tcpEnvelopeHeaderSize+int(declared) {
		return nil, ErrEnvelopeTooShort
	}
	ciphertext := make([]byte, declared)
	copy(ciphertext, data[tcpEnvelopeHeaderSize:tcpEnvelopeHeaderSize+int(declared)])
	return &TCPEnvelope{IV: iv, Tag: tag, DeclaredPayloadSize: declared, Ciphertext: ciphertext}, nil
}

// ValidateDeclaredSize enforces spec.md §4.2's bounds check. A connection
// that fails this check is poisoned by the caller — it must not be
// silently reconnected.
func ValidateDeclaredSize(n int32) error {
	if n < 0 || int64(n) > MaxTCPPayloadSize {
		return ErrDeclaredSizeOutOfRange
	}
	return nil
}
