// Package events mirrors persisted chat messages onto NATS subjects so other
// services can follow the conversation without touching the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

type Event struct {
	ID        int64          `json:"id"`
	FromUser  domain.UserID  `json:"fromUser"`
	Username  string         `json:"username"`
	ToUser    *domain.UserID `json:"toUser,omitempty"`
	Room      *string        `json:"room,omitempty"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

type Publisher struct {
	pub    publisher
	prefix string
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string) (*Publisher, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("chat-hub"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("module", "events").Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("module", "events").Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewPublisher(nc, prefix), nc, nil
}

func NewPublisher(pub publisher, prefix string) *Publisher {
	if prefix == "" {
		prefix = "chat"
	}
	return &Publisher{pub: pub, prefix: prefix}
}

func (p *Publisher) PublishMessage(ctx context.Context, msg domain.Message, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev := Event{
		ID:        msg.ID,
		FromUser:  msg.FromUser,
		Username:  username,
		ToUser:    msg.ToUser,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	if msg.Room != nil {
		room := string(*msg.Room)
		ev.Room = &room
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(msg)
	if err := p.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subject is <prefix>.room.<room> for room messages and <prefix>.dm.<to> for
// direct ones.
func (p *Publisher) Subject(msg domain.Message) string {
	if msg.IsDirect() {
		return fmt.Sprintf("%s.dm.%d", p.prefix, *msg.ToUser)
	}
	room := ""
	if msg.Room != nil {
		room = string(*msg.Room)
	}
	return p.prefix + ".room." + subjectToken(room)
}

// subjectToken maps a room name onto a single NATS subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
