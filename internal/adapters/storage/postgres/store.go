// Package postgres implements the message store and the room/user catalog on
// top of the relational schema owned by the main backend:
//
//	messages(id, from_user, to_user, room, content, timestamp)
//	rooms(name, ...)
//	users(id, username, ...)
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dkeye/Chat/internal/domain"
	_ "github.com/lib/pq"
)

const (
	insertRoomMessageSQL = `INSERT INTO messages (from_user, room, content) VALUES ($1, $2, $3) RETURNING id, timestamp`

	insertDirectMessageSQL = `INSERT INTO messages (from_user, to_user, content) VALUES ($1, $2, $3) RETURNING id, timestamp`

	// The inner query picks the newest rows, the outer one restores chronological order.
	roomHistorySQL = `SELECT id, from_user, username, content, timestamp, room FROM (
	SELECT m.id, m.from_user, u.username, m.content, m.timestamp, m.room
	FROM messages m
	JOIN users u ON u.id = m.from_user
	WHERE m.room = $1
	ORDER BY m.timestamp DESC, m.id DESC
	LIMIT $2
) recent ORDER BY timestamp ASC, id ASC`

	directHistorySQL = `SELECT id, from_user, username, content, timestamp, room FROM (
	SELECT m.id, m.from_user, u.username, m.content, m.timestamp, m.room
	FROM messages m
	JOIN users u ON u.id = m.from_user
	WHERE (m.from_user = $1 AND m.to_user = $2)
	   OR (m.from_user = $2 AND m.to_user = $1)
	ORDER BY m.timestamp DESC, m.id DESC
	LIMIT $3
) recent ORDER BY timestamp ASC, id ASC`

	roomExistsSQL = `SELECT EXISTS(SELECT 1 FROM rooms WHERE name = $1)`
	userExistsSQL = `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Store struct {
	db *sql.DB
}

// Open connects with the lib/pq driver and pings the server once.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an existing handle; the caller keeps ownership of its pool settings.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) InsertRoomMessage(ctx context.Context, from domain.UserID, room domain.RoomName, content string) (domain.Message, error) {
	msg := domain.Message{FromUser: from, Room: &room, Content: content}
	err := s.db.QueryRowContext(ctx, insertRoomMessageSQL, int64(from), string(room), content).
		Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert room message: %w", err)
	}
	return msg, nil
}

func (s *Store) InsertDirectMessage(ctx context.Context, from, to domain.UserID, content string) (domain.Message, error) {
	msg := domain.Message{FromUser: from, ToUser: &to, Content: content}
	err := s.db.QueryRowContext(ctx, insertDirectMessageSQL, int64(from), int64(to), content).
		Scan(&msg.ID, &msg.Timestamp)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert direct message: %w", err)
	}
	return msg, nil
}

func (s *Store) RoomHistory(ctx context.Context, room domain.RoomName, limit int) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, roomHistorySQL, string(room), limit)
	if err != nil {
		return nil, fmt.Errorf("room history: %w", err)
	}
	return scanHistory(rows)
}

func (s *Store) DirectHistory(ctx context.Context, a, b domain.UserID, limit int) ([]domain.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, directHistorySQL, int64(a), int64(b), limit)
	if err != nil {
		return nil, fmt.Errorf("dm history: %w", err)
	}
	return scanHistory(rows)
}

func scanHistory(rows *sql.Rows) ([]domain.HistoryEntry, error) {
	defer rows.Close()

	var out []domain.HistoryEntry
	for rows.Next() {
		var (
			e    domain.HistoryEntry
			from int64
			room sql.NullString
		)
		if err := rows.Scan(&e.ID, &from, &e.Username, &e.Content, &e.Timestamp, &room); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.FromUser = domain.UserID(from)
		if room.Valid {
			name := domain.RoomName(room.String)
			e.Room = &name
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *Store) RoomExists(ctx context.Context, room domain.RoomName) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, roomExistsSQL, string(room)).Scan(&ok); err != nil {
		return false, fmt.Errorf("room exists: %w", err)
	}
	return ok, nil
}

func (s *Store) UserExists(ctx context.Context, id domain.UserID) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, userExistsSQL, int64(id)).Scan(&ok); err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return ok, nil
}
