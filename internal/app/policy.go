package app

import (
	"fmt"

	"github.com/dkeye/Chat/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a recipient whose outbound queue is full.
type Policy interface {
	OnBackPressure(sess core.ClientSession) BackpressureAction
}

// SimplePolicy disconnects slow consumers.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ClientSession) BackpressureAction {
	return KickMember
}

// DropPolicy keeps slow consumers connected and discards the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.ClientSession) BackpressureAction {
	return DropFrame
}

// PolicyByName maps the overflow config value to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown overflow policy %q", name)
	}
}
