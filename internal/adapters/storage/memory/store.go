// Package memory is a process-local MessageStore and Catalog, used by the
// "memory" storage driver and by tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Chat/internal/domain"
)

type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	nextID   int64
	messages []domain.Message
	users    map[domain.UserID]string
	rooms    map[domain.RoomName]struct{}
}

type Option func(*Store)

// WithClock replaces time.Now as the source of message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		users: make(map[domain.UserID]string),
		rooms: make(map[domain.RoomName]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) AddUser(id domain.UserID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = username
}

func (s *Store) AddRoom(name domain.RoomName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[name] = struct{}{}
}

func (s *Store) RoomExists(_ context.Context, room domain.RoomName) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok, nil
}

func (s *Store) UserExists(_ context.Context, id domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *Store) insert(msg domain.Message) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	msg.Timestamp = s.now().UTC()
	s.messages = append(s.messages, msg)
	return msg
}

func (s *Store) InsertRoomMessage(ctx context.Context, from domain.UserID, room domain.RoomName, content string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	return s.insert(domain.Message{FromUser: from, Room: &room, Content: content}), nil
}

func (s *Store) InsertDirectMessage(ctx context.Context, from, to domain.UserID, content string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	return s.insert(domain.Message{FromUser: from, ToUser: &to, Content: content}), nil
}

func (s *Store) RoomHistory(ctx context.Context, room domain.RoomName, limit int) ([]domain.HistoryEntry, error) {
	return s.history(ctx, limit, func(m domain.Message) bool {
		return m.Room != nil && *m.Room == room
	})
}

func (s *Store) DirectHistory(ctx context.Context, a, b domain.UserID, limit int) ([]domain.HistoryEntry, error) {
	return s.history(ctx, limit, func(m domain.Message) bool {
		if m.ToUser == nil {
			return false
		}
		to := *m.ToUser
		return (m.FromUser == a && to == b) || (m.FromUser == b && to == a)
	})
}

// history keeps the newest limit matches and returns them oldest first.
func (s *Store) history(ctx context.Context, limit int, match func(domain.Message) bool) ([]domain.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var picked []domain.Message
	for i := len(s.messages) - 1; i >= 0 && len(picked) < limit; i-- {
		if match(s.messages[i]) {
			picked = append(picked, s.messages[i])
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if picked[i].Timestamp.Equal(picked[j].Timestamp) {
			return picked[i].ID < picked[j].ID
		}
		return picked[i].Timestamp.Before(picked[j].Timestamp)
	})

	out := make([]domain.HistoryEntry, 0, len(picked))
	for _, m := range picked {
		out = append(out, domain.HistoryEntry{
			ID:        m.ID,
			FromUser:  m.FromUser,
			Username:  s.users[m.FromUser],
			Content:   m.Content,
			Timestamp: m.Timestamp,
			Room:      m.Room,
		})
	}
	return out, nil
}
