// Package history keeps the per-room log of delivered messages.
package history

import (
	"context"
	"sync"

	"roomrelay-server/domain"
)

type Memory struct {
	rooms map[string][]domain.MessageRecord
	mu    sync.RWMutex
}

var _ domain.MessageLog = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string][]domain.MessageRecord)}
}

func (m *Memory) Append(_ context.Context, room string, sender domain.ConnectionID, text string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := uint64(len(m.rooms[room])) + 1
	m.rooms[room] = append(m.rooms[room], domain.MessageRecord{
		Room:   room,
		Sender: sender,
		Text:   text,
		Seq:    seq,
	})
	return seq, nil
}

func (m *Memory) History(_ context.Context, room string) ([]domain.MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.rooms[room]
	out := make([]domain.MessageRecord, len(records))
	copy(out, records)
	return out, nil
}
