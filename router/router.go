// Package router applies inbound connection events to room state and decides
// which connections receive each outbound directive.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"roomrelay-server/domain"
	"roomrelay-server/hub"
	"roomrelay-server/registry"
)

const DefaultWelcome = "Welcome to the chat server"

// ErrStateCorruption means the room directory references a connection the
// registry no longer knows about.
var ErrStateCorruption = errors.New("room state references a dead connection")

type handlerFunc func(ctx context.Context, id domain.ConnectionID, ev domain.Event) ([]domain.Delivery, error)

type Router struct {
	conns     *registry.Registry
	rooms     *hub.Directory
	log       domain.MessageLog
	transport domain.Transport
	welcome   string
	handlers  map[domain.EventType]handlerFunc
	mu        sync.Mutex
}

type Option func(*Router)

func WithWelcome(text string) Option {
	return func(r *Router) {
		if text != "" {
			r.welcome = text
		}
	}
}

func New(conns *registry.Registry, rooms *hub.Directory, log domain.MessageLog, transport domain.Transport, opts ...Option) *Router {
	r := &Router{
		conns:     conns,
		rooms:     rooms,
		log:       log,
		transport: transport,
		welcome:   DefaultWelcome,
	}
	r.handlers = map[domain.EventType]handlerFunc{
		domain.EventJoinRoom:    r.joinRoom,
		domain.EventLeaveRoom:   r.leaveRoom,
		domain.EventSendMessage: r.sendMessage,
		domain.EventGetHistory:  r.getHistory,
		domain.EventDisconnect:  r.disconnect,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers a new connection. attach runs before the welcome
// directive is emitted so the transport can already route it.
func (r *Router) Connect(attach func(domain.ConnectionID)) domain.ConnectionID {
	id := r.conns.Register()
	if attach != nil {
		attach(id)
	}
	slog.Info("connection registered", "clientId", id)

	r.transport.Deliver([]domain.ConnectionID{id}, domain.Directive{
		Type: domain.DirectiveWelcome,
		Text: r.welcome,
	})
	return id
}

// Handle applies ev for connection id and hands every resulting delivery to
// the transport before returning. Events from connections that are not live
// are discarded.
func (r *Router) Handle(ctx context.Context, id domain.ConnectionID, ev domain.Event) ([]domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.conns.IsLive(id) {
		slog.Debug("stale event discarded", "clientId", id, "event", ev.Type)
		return nil, nil
	}

	handle, ok := r.handlers[ev.Type]
	if !ok {
		slog.Debug("unknown event discarded", "clientId", id, "event", ev.Type)
		return nil, nil
	}

	deliveries, err := handle(ctx, id, ev)
	if err != nil {
		return nil, err
	}
	for _, d := range deliveries {
		r.transport.Deliver(d.Targets, d.Directive)
	}
	return deliveries, nil
}

// Disconnect purges id from every room and the registry. It reports false
// when the connection was already gone.
func (r *Router) Disconnect(id domain.ConnectionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.conns.IsLive(id) {
		return false
	}
	r.purge(id)
	return true
}

func (r *Router) purge(id domain.ConnectionID) {
	left := r.rooms.LeaveAll(id)
	r.conns.Deregister(id)
	slog.Info("connection closed", "clientId", id, "roomsLeft", len(left))
}

func (r *Router) disconnect(_ context.Context, id domain.ConnectionID, _ domain.Event) ([]domain.Delivery, error) {
	r.purge(id)
	return nil, nil
}

func (r *Router) joinRoom(_ context.Context, id domain.ConnectionID, ev domain.Event) ([]domain.Delivery, error) {
	if ev.Room == "" {
		slog.Debug("join without room dropped", "clientId", id)
		return nil, nil
	}
	r.rooms.Join(ev.Room, id)
	slog.Info("client joined room", "clientId", id, "room", ev.Room)

	return []domain.Delivery{reply(id, domain.Directive{Type: domain.DirectiveJoinedRoom, Room: ev.Room})}, nil
}

func (r *Router) leaveRoom(_ context.Context, id domain.ConnectionID, ev domain.Event) ([]domain.Delivery, error) {
	if ev.Room == "" {
		slog.Debug("leave without room dropped", "clientId", id)
		return nil, nil
	}
	r.rooms.Leave(ev.Room, id)
	slog.Info("client left room", "clientId", id, "room", ev.Room)

	return []domain.Delivery{reply(id, domain.Directive{Type: domain.DirectiveLeftRoom, Room: ev.Room})}, nil
}

func (r *Router) sendMessage(ctx context.Context, id domain.ConnectionID, ev domain.Event) ([]domain.Delivery, error) {
	if ev.Room == "" || strings.TrimSpace(ev.Message) == "" {
		slog.Debug("empty message dropped", "clientId", id, "room", ev.Room)
		return nil, nil
	}

	recipients := r.rooms.Members(ev.Room)
	for _, member := range recipients {
		if !r.conns.IsLive(member) {
			slog.Error("room member is not a live connection", "room", ev.Room, "clientId", member)
			return nil, fmt.Errorf("room %q member %s: %w", ev.Room, member, ErrStateCorruption)
		}
	}

	seq, err := r.log.Append(ctx, ev.Room, id, ev.Message)
	if err != nil {
		slog.Error("message log append failed", "room", ev.Room, "clientId", id, "error", err)
		return nil, nil
	}
	slog.Info("message received", "clientId", id, "room", ev.Room, "seq", seq, "recipients", len(recipients))

	if len(recipients) == 0 {
		return nil, nil
	}
	return []domain.Delivery{{
		Targets: recipients,
		Directive: domain.Directive{
			Type: domain.DirectiveReceiveMessage,
			Room: ev.Room,
			Message: &domain.MessageRecord{
				Room:   ev.Room,
				Sender: id,
				Text:   ev.Message,
				Seq:    seq,
			},
		},
	}}, nil
}

func (r *Router) getHistory(ctx context.Context, id domain.ConnectionID, ev domain.Event) ([]domain.Delivery, error) {
	if ev.Room == "" {
		return nil, nil
	}
	records, err := r.log.History(ctx, ev.Room)
	if err != nil {
		slog.Error("message log read failed", "room", ev.Room, "clientId", id, "error", err)
		return nil, nil
	}
	return []domain.Delivery{reply(id, domain.Directive{
		Type:    domain.DirectiveHistory,
		Room:    ev.Room,
		History: records,
	})}, nil
}

// History reads the room log outside of any connection's event stream.
func (r *Router) History(ctx context.Context, room string) ([]domain.MessageRecord, error) {
	return r.log.History(ctx, room)
}

func reply(id domain.ConnectionID, d domain.Directive) domain.Delivery {
	return domain.Delivery{Targets: []domain.ConnectionID{id}, Directive: d}
}
