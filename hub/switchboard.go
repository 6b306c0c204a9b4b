package hub

import (
	"log/slog"
	"sync"

	"roomrelay-server/domain"
)

// Switchboard routes directives to the live transport connection bound to
// each id.
type Switchboard struct {
	conns map[domain.ConnectionID]domain.Connection
	mu    sync.RWMutex
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{
		conns: make(map[domain.ConnectionID]domain.Connection),
	}
}

func (s *Switchboard) Attach(conn domain.Connection) {
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	count := len(s.conns)
	s.mu.Unlock()

	slog.Info("client connected", "clientId", conn.ID(), "clients", count)
}

func (s *Switchboard) Detach(conn domain.Connection) {
	s.mu.Lock()
	current, ok := s.conns[conn.ID()]
	if !ok || current != conn {
		s.mu.Unlock()
		return
	}
	delete(s.conns, conn.ID())
	count := len(s.conns)
	s.mu.Unlock()

	slog.Info("client disconnected", "clientId", conn.ID(), "clients", count)
}

func (s *Switchboard) Deliver(targets []domain.ConnectionID, d domain.Directive) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range targets {
		conn, ok := s.conns[id]
		if !ok {
			slog.Debug("no transport for target", "clientId", id, "directive", d.Type)
			continue
		}
		if err := conn.Send(d); err != nil {
			slog.Warn("send failed, closing connection", "clientId", id, "error", err)
			go func(c domain.Connection) {
				s.Detach(c)
				c.Close()
			}(conn)
		}
	}
}

func (s *Switchboard) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// CloseAll closes every attached connection. Their read loops then run the
// normal disconnect path.
func (s *Switchboard) CloseAll() int {
	s.mu.RLock()
	conns := make([]domain.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			slog.Debug("close error", "clientId", c.ID(), "error", err)
		}
	}
	slog.Info("closed client connections", "count", len(conns))
	return len(conns)
}
