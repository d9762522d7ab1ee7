package app

import (
	"context"
	"sync"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session core.ClientSession
	Cancel  context.CancelFunc
}

// Registry maps each connected user to its live session.
// One entry per user; a newer connection displaces the older one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.UserID]*sessionEntry),
	}
}

// Register inserts or replaces the entry for the session's user and returns
// the displaced session, if any. The displaced session is not closed.
func (r *Registry) Register(sess core.ClientSession, cancel context.CancelFunc) (core.ClientSession, bool) {
	uid := sess.User().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, had := r.sessions[uid]
	r.sessions[uid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Int64("user", int64(uid)).Str("sid", string(sess.ID())).Bool("replaced", had).Msg("registered session")
	if had {
		return prev.Session, true
	}
	return nil, false
}

// Unregister removes uid only while it still points at session sid.
func (r *Registry) Unregister(uid domain.UserID, sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[uid]
	if !ok || e.Session.ID() != sid {
		return false
	}
	delete(r.sessions, uid)
	log.Info().Str("module", "app.registry").Int64("user", int64(uid)).Str("sid", string(sid)).Msg("unregistered session")
	return true
}

func (r *Registry) Get(uid domain.UserID) (core.ClientSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[uid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CancelSession stops uid's session only while it is still session sid, so a
// newer connection of the same user is never hit by a stale kick.
func (r *Registry) CancelSession(uid domain.UserID, sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[uid]
	if ok && e.Session.ID() != sid {
		ok = false
	}
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Int64("user", int64(uid)).Str("sid", string(sid)).Msg("canceled session")
	return true
}
