package protocol

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

const (
	TypeJoinAck     = "join_ack"
	TypeMessageSent = "message_sent"
	TypeDMSent      = "dm_sent"
	TypeError       = "error"

	StatusOK = "ok"
)

type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func Encode(typ string, data any) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Data: data})
}

type JoinAck struct {
	Room   domain.RoomName `json:"room"`
	Status string          `json:"status"`
}

type MessageSent struct {
	Room   domain.RoomName `json:"room"`
	Status string          `json:"status"`
}

type DMSent struct {
	To     domain.UserID `json:"to"`
	Status string        `json:"status"`
}

type Error struct {
	Message string `json:"message"`
}

// RoomBroadcast is pushed to every live member of a room.
type RoomBroadcast struct {
	ID        int64           `json:"id"`
	FromUser  domain.UserID   `json:"fromUser"`
	Username  string          `json:"username"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Room      domain.RoomName `json:"room"`
}

// DirectDelivery is pushed to the recipient of a direct message.
type DirectDelivery struct {
	ID        int64         `json:"id"`
	FromUser  domain.UserID `json:"fromUser"`
	Username  string        `json:"username"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
}

type HistoryItem struct {
	ID        int64            `json:"id"`
	FromUser  domain.UserID    `json:"fromUser"`
	Username  string           `json:"username"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	Room      *domain.RoomName `json:"room,omitempty"`
}

func NewRoomBroadcast(msg domain.Message, username string) RoomBroadcast {
	out := RoomBroadcast{
		ID:        msg.ID,
		FromUser:  msg.FromUser,
		Username:  username,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	if msg.Room != nil {
		out.Room = *msg.Room
	}
	return out
}

func NewDirectDelivery(msg domain.Message, username string) DirectDelivery {
	return DirectDelivery{
		ID:        msg.ID,
		FromUser:  msg.FromUser,
		Username:  username,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
}

func NewHistory(entries []domain.HistoryEntry) []HistoryItem {
	out := make([]HistoryItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryItem{
			ID:        e.ID,
			FromUser:  e.FromUser,
			Username:  e.Username,
			Content:   e.Content,
			Timestamp: e.Timestamp,
			Room:      e.Room,
		})
	}
	return out
}
