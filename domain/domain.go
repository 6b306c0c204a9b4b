package domain

import "context"

type ConnectionID string

type EventType string

const (
	EventJoinRoom    EventType = "join_room"
	EventLeaveRoom   EventType = "leave_room"
	EventSendMessage EventType = "send_message"
	EventGetHistory  EventType = "get_history"
	EventDisconnect  EventType = "disconnect"
	EventPing        EventType = "ping"
)

// Event is an inbound request from a single connection.
type Event struct {
	Type      EventType
	Room      string
	Message   string
	Timestamp int64
}

type DirectiveType string

const (
	DirectiveWelcome        DirectiveType = "welcome"
	DirectiveJoinedRoom     DirectiveType = "joined_room"
	DirectiveLeftRoom       DirectiveType = "left_room"
	DirectiveReceiveMessage DirectiveType = "receive_message"
	DirectiveHistory        DirectiveType = "history"
	DirectivePong           DirectiveType = "pong"
)

// Directive is an outbound payload the transport writes to its targets.
type Directive struct {
	Type      DirectiveType
	Room      string
	Text      string
	Message   *MessageRecord
	History   []MessageRecord
	Timestamp int64
	ClientID  ConnectionID
}

type MessageRecord struct {
	Room   string       `json:"room"`
	Sender ConnectionID `json:"sender"`
	Text   string       `json:"message"`
	Seq    uint64       `json:"seq"`
}

type Delivery struct {
	Targets   []ConnectionID
	Directive Directive
}

type Connection interface {
	ID() ConnectionID
	Send(d Directive) error
	Close() error
}

// Transport performs the literal send. Deliver must not block.
type Transport interface {
	Deliver(targets []ConnectionID, d Directive)
}

type MessageLog interface {
	Append(ctx context.Context, room string, sender ConnectionID, text string) (uint64, error)
	History(ctx context.Context, room string) ([]MessageRecord, error)
}
