package wire

import (
	"encoding/binary"
	"fmt"
)

// EncodeMessage serializes a Message to its wire form: a one-byte kind tag
// followed by a kind-specific little-endian body, mirroring the teacher's
// NVInputHeader-style fixed layouts in protocol/packets.go.
func EncodeMessage(m Message) ([]byte, error) {
	switch b := m.Body.(type) {
	case Keyboard:
		buf := make([]byte, 1+4+2+1+1)
		buf[0] = byte(MsgKeyboard)
		binary.LittleEndian.PutUint32(buf[1:5], b.MsgID)
		binary.LittleEndian.PutUint16(buf[5:7], b.Code)
		buf[7] = b.Modifiers
		if b.Pressed {
			buf[8] = 1
		}
		return buf, nil
	case KeyboardState:
		buf := make([]byte, 1+4+1+1+2+2*len(b.KeyCodes))
		buf[0] = byte(MsgKeyboardState)
		binary.LittleEndian.PutUint32(buf[1:5], b.MsgID)
		if b.CapsLock {
			buf[5] = 1
		}
		if b.NumLock {
			buf[6] = 1
		}
		binary.LittleEndian.PutUint16(buf[7:9], uint16(len(b.KeyCodes)))
		for i, kc := range b.KeyCodes {
			binary.LittleEndian.PutUint16(buf[9+2*i:11+2*i], kc)
		}
		return buf, nil
	case MouseMotion:
		buf := make([]byte, 1+1+4+4)
		buf[0] = byte(MsgMouseMotion)
		if b.Absolute {
			buf[1] = 1
		}
		binary.LittleEndian.PutUint32(buf[2:6], uint32(b.X))
		binary.LittleEndian.PutUint32(buf[6:10], uint32(b.Y))
		return buf, nil
	case MouseButton:
		buf := make([]byte, 3)
		buf[0] = byte(MsgMouseButton)
		buf[1] = b.Button
		if b.Pressed {
			buf[2] = 1
		}
		return buf, nil
	case MouseWheel:
		buf := make([]byte, 1+1+4)
		buf[0] = byte(MsgMouseWheel)
		if b.HighRes {
			buf[1] = 1
		}
		binary.LittleEndian.PutUint32(buf[2:6], uint32(b.Delta))
		return buf, nil
	case NackSingle:
		buf := make([]byte, 1+1+4+2)
		buf[0] = byte(MsgNackSingle)
		buf[1] = byte(b.Stream)
		binary.LittleEndian.PutUint32(buf[2:6], b.FrameID)
		binary.LittleEndian.PutUint16(buf[6:8], b.Index)
		return buf, nil
	case NackBitarray:
		buf := make([]byte, 1+1+4+2+2+len(b.Bits))
		buf[0] = byte(MsgNackBitarray)
		buf[1] = byte(b.Stream)
		binary.LittleEndian.PutUint32(buf[2:6], b.FrameID)
		binary.LittleEndian.PutUint16(buf[6:8], b.StartIndex)
		binary.LittleEndian.PutUint16(buf[8:10], uint16(len(b.Bits)))
		copy(buf[10:], b.Bits)
		return buf, nil
	case Dimensions:
		buf := make([]byte, 1+4+4+4+4)
		buf[0] = byte(MsgDimensions)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(b.Width))
		binary.LittleEndian.PutUint32(buf[5:9], uint32(b.Height))
		binary.LittleEndian.PutUint32(buf[9:13], uint32(b.DPI))
		binary.LittleEndian.PutUint32(buf[13:17], uint32(b.Codec))
		return buf, nil
	case Ping:
		buf := make([]byte, 5)
		buf[0] = byte(MsgPing)
		binary.LittleEndian.PutUint32(buf[1:5], b.ID)
		return buf, nil
	case Pong:
		buf := make([]byte, 5)
		buf[0] = byte(MsgPong)
		binary.LittleEndian.PutUint32(buf[1:5], b.ID)
		return buf, nil
	case StreamReset:
		buf := make([]byte, 1+1+4)
		buf[0] = byte(MsgStreamReset)
		buf[1] = byte(b.Stream)
		binary.LittleEndian.PutUint32(buf[2:6], b.GreatestFailedID)
		return buf, nil
	case FrameAck:
		buf := make([]byte, 5)
		buf[0] = byte(MsgFrameAck)
		binary.LittleEndian.PutUint32(buf[1:5], b.FrameID)
		return buf, nil
	case DiscoveryRequest:
		return []byte{byte(MsgDiscoveryRequest)}, nil
	case Quit:
		reason := []byte(b.Reason)
		buf := make([]byte, 1+2+len(reason))
		buf[0] = byte(MsgQuit)
		binary.LittleEndian.PutUint16(buf[1:3], uint16(len(reason)))
		copy(buf[3:], reason)
		return buf, nil
	case InteractionMode:
		return []byte{byte(MsgInteractionMode), b.Mode}, nil
	case ClipboardChunk:
		buf := make([]byte, 1+4+4+4+len(b.Data))
		buf[0] = byte(MsgClipboardChunk)
		binary.LittleEndian.PutUint32(buf[1:5], uint32(b.ChunkIndex))
		binary.LittleEndian.PutUint32(buf[5:9], uint32(b.TotalChunks))
		binary.LittleEndian.PutUint32(buf[9:13], uint32(len(b.Data)))
		copy(buf[13:], b.Data)
		return buf, nil
	default:
		return nil, fmt.Errorf("wire: unsupported message body %T", b)
	}
}

// DecodeMessage parses a Message from its wire form.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) < 1 {
		return Message{}, ErrPacketTooShort
	}
	kind := MessageKind(data[0])
	body := data[1:]
	switch kind {
	case MsgKeyboard:
		if len(body) < 8 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: Keyboard{
			MsgID:     binary.LittleEndian.Uint32(body[0:4]),
			Code:      binary.LittleEndian.Uint16(body[4:6]),
			Modifiers: body[6],
			Pressed:   body[7] != 0,
		}}, nil
	case MsgKeyboardState:
		if len(body) < 8 {
			return Message{}, ErrPacketTooShort
		}
		n := int(binary.LittleEndian.Uint16(body[6:8]))
		if len(body) < 8+2*n {
			return Message{}, ErrPacketTooShort
		}
		codes := make([]uint16, n)
		for i := 0; i < n; i++ {
			codes[i] = binary.LittleEndian.Uint16(body[8+2*i : 10+2*i])
		}
		return Message{Kind: kind, Body: KeyboardState{
			MsgID:    binary.LittleEndian.Uint32(body[0:4]),
			CapsLock: body[4] != 0,
			NumLock:  body[5] != 0,
			KeyCodes: codes,
		}}, nil
	case MsgMouseMotion:
		if len(body) < 9 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: MouseMotion{
			Absolute: body[0] != 0,
			X:        int32(binary.LittleEndian.Uint32(body[1:5])),
			Y:        int32(binary.LittleEndian.Uint32(body[5:9])),
		}}, nil
	case MsgMouseButton:
		if len(body) < 2 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: MouseButton{Button: body[0], Pressed: body[1] != 0}}, nil
	case MsgMouseWheel:
		if len(body) < 5 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: MouseWheel{
			HighRes: body[0] != 0,
			Delta:   int32(binary.LittleEndian.Uint32(body[1:5])),
		}}, nil
	case MsgNackSingle:
		if len(body) < 7 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: NackSingle{
			Stream:  StreamType(body[0]),
			FrameID: binary.LittleEndian.Uint32(body[1:5]),
			Index:   binary.LittleEndian.Uint16(body[5:7]),
		}}, nil
	case MsgNackBitarray:
		if len(body) < 9 {
			return Message{}, ErrPacketTooShort
		}
		n := int(binary.LittleEndian.Uint16(body[7:9]))
		if len(body) < 9+n {
			return Message{}, ErrPacketTooShort
		}
		bits := make([]byte, n)
		copy(bits, body[9:9+n])
		return Message{Kind: kind, Body: NackBitarray{
			Stream:     StreamType(body[0]),
			FrameID:    binary.LittleEndian.Uint32(body[1:5]),
			StartIndex: binary.LittleEndian.Uint16(body[5:7]),
			Bits:       bits,
		}}, nil
	case MsgDimensions:
		if len(body) < 16 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: Dimensions{
			Width:  int32(binary.LittleEndian.Uint32(body[0:4])),
			Height: int32(binary.LittleEndian.Uint32(body[4:8])),
			DPI:    int32(binary.LittleEndian.Uint32(body[8:12])),
			Codec:  Codec(binary.LittleEndian.Uint32(body[12:16])),
		}}, nil
	case MsgPing:
		if len(body) < 4 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: Ping{ID: binary.LittleEndian.Uint32(body[0:4])}}, nil
	case MsgPong:
		if len(body) < 4 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: Pong{ID: binary.LittleEndian.Uint32(body[0:4])}}, nil
	case MsgStreamReset:
		if len(body) < 5 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: StreamReset{
			Stream:           StreamType(body[0]),
			GreatestFailedID: binary.LittleEndian.Uint32(body[1:5]),
		}}, nil
	case MsgFrameAck:
		if len(body) < 4 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: FrameAck{FrameID: binary.LittleEndian.Uint32(body[0:4])}}, nil
	case MsgDiscoveryRequest:
		return Message{Kind: kind, Body: DiscoveryRequest{}}, nil
	case MsgQuit:
		if len(body) < 2 {
			return Message{}, ErrPacketTooShort
		}
		n := int(binary.LittleEndian.Uint16(body[0:2]))
		if len(body) < 2+n {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: Quit{Reason: string(body[2 : 2+n])}}, nil
	case MsgInteractionMode:
		if len(body) < 1 {
			return Message{}, ErrPacketTooShort
		}
		return Message{Kind: kind, Body: InteractionMode{Mode: body[0]}}, nil
	case MsgClipboardChunk:
		if len(body) < 12 {
			return Message{}, ErrPacketTooShort
		}
		n := int(binary.LittleEndian.Uint32(body[8:12]))
		if len(body) < 12+n {
			return Message{}, ErrPacketTooShort
		}
		data := make([]byte, n)
		copy(data, body[12:12+n])
		return Message{Kind: kind, Body: ClipboardChunk{
			ChunkIndex:  int32(binary.LittleEndian.Uint32(body[0:4])),
			TotalChunks: int32(binary.LittleEndian.Uint32(body[4:8])),
			Data:        data,
		}}, nil
	default:
		return Message{}, fmt.Errorf("wire: unknown message kind %d", kind)
	}
}
