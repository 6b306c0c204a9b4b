package protocol

import (
	"context"
	"log/slog"

	"roomrelay-server/domain"
)

type Dispatcher interface {
	Handle(ctx context.Context, id domain.ConnectionID, ev domain.Event) ([]domain.Delivery, error)
}

type Handler struct {
	router Dispatcher
}

func NewHandler(d Dispatcher) *Handler {
	return &Handler{router: d}
}

// Handle decodes one frame from conn and forwards it. Only errors that the
// router reports are returned; bad frames are logged and dropped.
func (h *Handler) Handle(ctx context.Context, conn domain.Connection, codec Codec, data []byte) error {
	ev, err := codec.Decode(data)
	if err != nil {
		slog.Warn("invalid message", "clientId", conn.ID(), "error", err)
		return nil
	}

	if ev.Type == domain.EventPing {
		pong := domain.Directive{Type: domain.DirectivePong, Timestamp: ev.Timestamp, ClientID: conn.ID()}
		if err := conn.Send(pong); err != nil {
			slog.Warn("pong failed", "clientId", conn.ID(), "error", err)
		}
		return nil
	}

	_, err = h.router.Handle(ctx, conn.ID(), ev)
	return err
}
