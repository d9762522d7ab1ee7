// Package protocol holds the JSON frames exchanged with chat clients.
//
// Inbound frames are flat objects discriminated by "type". Outbound frames
// are enveloped as {"type": ..., "data": ...}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Chat/internal/domain"
)

// ErrMalformedFrame reports a payload that is not a recognized protocol message.
var ErrMalformedFrame = errors.New("malformed frame")

const (
	TypeJoin        = "join"
	TypeMessage     = "message"
	TypeDM          = "dm"
	TypeRoomHistory = "room_history"
	TypeDMHistory   = "dm_history"
)

// Inbound is one decoded client request.
type Inbound interface {
	Type() string
}

type Join struct {
	Room domain.RoomName
}

type RoomMessage struct {
	Room    domain.RoomName
	Content string
}

type DirectMessage struct {
	To      domain.UserID
	Content string
}

// RoomHistory and DmHistory leave Limit nil when the client omitted it.
type RoomHistory struct {
	Room  domain.RoomName
	Limit *int
}

type DmHistory struct {
	With  domain.UserID
	Limit *int
}

func (Join) Type() string          { return TypeJoin }
func (RoomMessage) Type() string   { return TypeMessage }
func (DirectMessage) Type() string { return TypeDM }
func (RoomHistory) Type() string   { return TypeRoomHistory }
func (DmHistory) Type() string     { return TypeDMHistory }

// wire mirrors every inbound field; pointers distinguish absent from zero.
type wire struct {
	Type    string  `json:"type"`
	Room    *string `json:"room"`
	Content *string `json:"content"`
	To      *int64  `json:"to"`
	With    *int64  `json:"with"`
	Limit   *int    `json:"limit"`
}

func Decode(data []byte) (Inbound, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch w.Type {
	case TypeJoin:
		if w.Room == nil {
			return nil, missing(w.Type, "room")
		}
		return Join{Room: domain.RoomName(*w.Room)}, nil
	case TypeMessage:
		if w.Room == nil {
			return nil, missing(w.Type, "room")
		}
		if w.Content == nil {
			return nil, missing(w.Type, "content")
		}
		return RoomMessage{Room: domain.RoomName(*w.Room), Content: *w.Content}, nil
	case TypeDM:
		if w.To == nil {
			return nil, missing(w.Type, "to")
		}
		if w.Content == nil {
			return nil, missing(w.Type, "content")
		}
		return DirectMessage{To: domain.UserID(*w.To), Content: *w.Content}, nil
	case TypeRoomHistory:
		if w.Room == nil {
			return nil, missing(w.Type, "room")
		}
		return RoomHistory{Room: domain.RoomName(*w.Room), Limit: w.Limit}, nil
	case TypeDMHistory:
		if w.With == nil {
			return nil, missing(w.Type, "with")
		}
		return DmHistory{With: domain.UserID(*w.With), Limit: w.Limit}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, w.Type)
	}
}

func missing(typ, field string) error {
	return fmt.Errorf("%w: %s without %s", ErrMalformedFrame, typ, field)
}
