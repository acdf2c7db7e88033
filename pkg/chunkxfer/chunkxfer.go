// Package chunkxfer splits large out-of-band payloads — clipboard
// contents and file transfers (spec.md §9's clipboard/file chunk
// framing) — into wire.ClipboardChunk control messages carried over a
// pkg/tcpsock.Socket, and reassembles them on the far end. Compression
// is pkg/tcpsock's concern (it zstd-compresses large plaintexts
// transparently before sealing); this package only knows about
// chunk indices, matching the original's chunk-index model in
// protocol/whist/file/file_download.h.
package chunkxfer

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/streamcore/streamcore/pkg/wire"
)

// ChunkSize is the payload carried per wire.ClipboardChunk message. Each
// chunk travels as one framed TCP message; at 32 KiB it is larger than
// pkg/tcpsock's 4 KiB read size, so the receiver assembles it from
// several reads.
const ChunkSize = 32 * 1024

// Send splits data into ChunkSize wire.ClipboardChunk messages and
// hands each to emit in order. emit is expected to be a
// pkg/tcpsock.Socket.SendMessage-shaped function.
func Send(data []byte, emit func(wire.Message) error) error {
	total := (len(data) + ChunkSize - 1) / ChunkSize
	if total == 0 {
		total = 1
	}
	for i := 0; i < total; i++ {
		start := i * ChunkSize
		end := start + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		msg := wire.Message{
			Kind: wire.MsgClipboardChunk,
			Body: wire.ClipboardChunk{
				ChunkIndex:  int32(i),
				TotalChunks: int32(total),
				Data:        data[start:end],
			},
		}
		if err := emit(msg); err != nil {
			return fmt.Errorf("chunkxfer: sending chunk %d/%d: %w", i+1, total, err)
		}
	}
	return nil
}

// Reassembler accumulates wire.ClipboardChunk messages for a single
// in-flight transfer and yields the completed payload once the last
// chunk arrives. One Reassembler handles one transfer at a time; the
// caller is expected to key a map of these by whatever transfer
// identity its control-message envelope carries (spec.md leaves the
// exact session/transfer correlation to the caller).
type Reassembler struct {
	mu     sync.Mutex
	chunks map[int32][]byte
	total  int32
	have   int32
}

// NewReassembler builds an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{chunks: make(map[int32][]byte)}
}

// Accept folds in one chunk, returning the reassembled payload once
// every chunk up to TotalChunks has arrived.
func (r *Reassembler) Accept(chunk wire.ClipboardChunk) (payload []byte, done bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.total == 0 {
		r.total = chunk.TotalChunks
	}
	if _, seen := r.chunks[chunk.ChunkIndex]; !seen {
		r.chunks[chunk.ChunkIndex] = chunk.Data
		r.have++
	}
	if r.have < r.total {
		return nil, false, nil
	}

	var buf bytes.Buffer
	for i := int32(0); i < r.total; i++ {
		part, ok := r.chunks[i]
		if !ok {
			return nil, false, fmt.Errorf("chunkxfer: missing chunk %d/%d at completion", i, r.total)
		}
		buf.Write(part)
	}
	return buf.Bytes(), true, nil
}
