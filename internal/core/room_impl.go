package core

import (
	"sync"

	"github.com/dkeye/Chat/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory membership set.
// Join order is kept so fan-out is deterministic.
type roomImpl struct {
	name    domain.RoomName
	mu      sync.RWMutex
	order   []domain.UserID
	members map[domain.UserID]struct{}
}

func NewRoomService(name domain.RoomName) RoomService {
	return &roomImpl{
		name:    name,
		members: make(map[domain.UserID]struct{}),
	}
}

func (r *roomImpl) Name() domain.RoomName { return r.name }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *roomImpl) Join(uid domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[uid]; ok {
		log.Debug().Str("module", "core.room").Str("room", string(r.name)).Int64("user", int64(uid)).Msg("already a member")
		return false
	}
	r.members[uid] = struct{}{}
	r.order = append(r.order, uid)
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Int64("user", int64(uid)).Msg("member added")
	return true
}

func (r *roomImpl) Has(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[uid]
	return ok
}

// Members returns a copy; callers may range over it without holding the lock.
func (r *roomImpl) Members() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, len(r.order))
	copy(out, r.order)
	return out
}
