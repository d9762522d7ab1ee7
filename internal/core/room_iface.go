package core

import (
	"github.com/dkeye/Chat/internal/domain"
)

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Name() domain.RoomName
	MemberCount() int
	// Join adds uid once; it reports whether uid was newly added.
	Join(uid domain.UserID) bool
	Has(uid domain.UserID) bool
	Members() []domain.UserID
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
}
