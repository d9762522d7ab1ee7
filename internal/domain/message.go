package domain

import "time"

// Message is a persisted chat message. ID and Timestamp are assigned by the
// store; exactly one of ToUser and Room is set.
type Message struct {
	ID        int64
	FromUser  UserID
	ToUser    *UserID
	Room      *RoomName
	Content   string
	Timestamp time.Time
}

func (m Message) IsDirect() bool { return m.ToUser != nil }

// HistoryEntry is a stored message joined with its author's username.
type HistoryEntry struct {
	ID        int64
	FromUser  UserID
	Username  string
	Content   string
	Timestamp time.Time
	Room      *RoomName
}
