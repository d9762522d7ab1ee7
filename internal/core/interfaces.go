package core

//go:generate mockgen -destination=mocks/mock_core.go -package=mocks . MessageStore,Catalog,EventPublisher

import (
	"context"
	"errors"

	"github.com/dkeye/Chat/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded outbound protocol message.
type Frame []byte

type SessionID string

// Connection abstracts the outbound side of a live transport.
// Owned by the adapter; the adapter must Close() it.
type Connection interface {
	// TrySend never blocks. It fails with ErrBackpressure when the queue is full.
	TrySend(Frame) error
	Close()
}

// ClientSession binds an authenticated user to its transport endpoint.
// This is what the connection registry stores and fans out to.
type ClientSession interface {
	ID() SessionID
	User() domain.User
	Conn() Connection
}

// MessageStore is the durable side of the hub. IDs and timestamps of the
// returned messages are assigned by the store.
type MessageStore interface {
	InsertRoomMessage(ctx context.Context, from domain.UserID, room domain.RoomName, content string) (domain.Message, error)
	InsertDirectMessage(ctx context.Context, from, to domain.UserID, content string) (domain.Message, error)
	// RoomHistory and DirectHistory return the newest limit entries, oldest first.
	RoomHistory(ctx context.Context, room domain.RoomName, limit int) ([]domain.HistoryEntry, error)
	DirectHistory(ctx context.Context, a, b domain.UserID, limit int) ([]domain.HistoryEntry, error)
}

// Catalog answers whether a room or user may be addressed at all.
// It is independent from live room membership.
type Catalog interface {
	RoomExists(ctx context.Context, room domain.RoomName) (bool, error)
	UserExists(ctx context.Context, id domain.UserID) (bool, error)
}

// EventPublisher mirrors persisted messages to other services.
type EventPublisher interface {
	PublishMessage(ctx context.Context, msg domain.Message, username string) error
}
