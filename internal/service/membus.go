package service

import (
	"context"
	"path"
	"strconv"
	"sync"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// MemoryBus is an in-process domain.SignalBus used when Redis is disabled.
// Slow subscribers drop messages rather than block publishers.
type MemoryBus struct {
	buffer    int
	streamMax int

	mu      sync.RWMutex
	subs    map[*memSub]struct{}
	streams map[string]*memStream
}

type memSub struct {
	pattern string
	ch      chan []byte
}

type memStream struct {
	next    uint64
	entries []domain.StreamMessage
}

var _ domain.SignalBus = (*MemoryBus)(nil)

// NewMemoryBus creates a MemoryBus. buffer is the per-subscriber channel
// size and streamMax caps each stream.
func NewMemoryBus(buffer, streamMax int) *MemoryBus {
	if buffer <= 0 {
		buffer = 128
	}
	if streamMax <= 0 {
		streamMax = 10000
	}
	return &MemoryBus{
		buffer:    buffer,
		streamMax: streamMax,
		subs:      make(map[*memSub]struct{}),
		streams:   make(map[string]*memStream),
	}
}

// Publish delivers payload to every subscriber whose pattern matches.
func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers for channel, which may be a glob pattern. The returned
// channel closes when ctx is done.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &memSub{pattern: channel, ch: make(chan []byte, b.buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend adds payload to stream, dropping the oldest entries past the cap.
func (b *MemoryBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[stream]
	if !ok {
		st = &memStream{}
		b.streams[stream] = st
	}
	st.next++
	st.entries = append(st.entries, domain.StreamMessage{ID: strconv.FormatUint(st.next, 10) + "-0", Payload: payload})
	if over := len(st.entries) - b.streamMax; over > 0 {
		st.entries = append([]domain.StreamMessage(nil), st.entries[over:]...)
	}
	return nil
}

// StreamRead returns up to count entries after lastID.
func (b *MemoryBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.streams[stream]
	if !ok {
		return nil, nil
	}
	after := streamSeq(lastID)
	var out []domain.StreamMessage
	for _, m := range st.entries {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, _ := strconv.ParseUint(id, 10, 64)
	return n
}
