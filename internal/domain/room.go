package domain

import "errors"

const MaxRoomNameLen = 128

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type RoomName string

func (n RoomName) Validate() error {
	if len(n) == 0 {
		return ErrRoomNameEmpty
	}
	if len(n) > MaxRoomNameLen {
		return ErrRoomNameTooLong
	}
	return nil
}
