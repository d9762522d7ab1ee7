package orch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	errContentEmpty   = errors.New("message content is empty")
	errContentTooLong = errors.New("message content is too long")
)

// Limits bounds what a client may ask of the router. Zero fields fall back
// to DefaultLimits.
type Limits struct {
	DefaultHistory int
	MaxHistory     int
	MaxContentLen  int
	// StoreTimeout bounds each catalog or store call; 0 means no timeout.
	StoreTimeout time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		DefaultHistory: 50,
		MaxHistory:     200,
		MaxContentLen:  4096,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.DefaultHistory <= 0 {
		l.DefaultHistory = d.DefaultHistory
	}
	if l.MaxHistory <= 0 {
		l.MaxHistory = d.MaxHistory
	}
	if l.MaxHistory < l.DefaultHistory {
		l.MaxHistory = l.DefaultHistory
	}
	if l.MaxContentLen <= 0 {
		l.MaxContentLen = d.MaxContentLen
	}
	return l
}

// historyLimit treats an absent or non-positive request as the default.
func (l Limits) historyLimit(req *int) int {
	l = l.withDefaults()
	n := l.DefaultHistory
	if req != nil && *req > 0 {
		n = *req
	}
	if n > l.MaxHistory {
		n = l.MaxHistory
	}
	return n
}

func (l Limits) checkContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errContentEmpty
	}
	if len(content) > l.withDefaults().MaxContentLen {
		return errContentTooLong
	}
	return nil
}

// Orchestrator routes decoded client requests: it validates them against the
// catalog, persists, fans out to live sessions and answers the sender.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Store    core.MessageStore
	Catalog  core.Catalog
	Events   core.EventPublisher
	Policy   app.Policy
	Limits   Limits
}

// Connect makes sess the live recipient for its user.
func (o *Orchestrator) Connect(sess core.ClientSession, cancel context.CancelFunc) {
	if prev, ok := o.Registry.Register(sess, cancel); ok {
		log.Warn().Str("module", "orch").
			Int64("user", int64(sess.User().ID)).
			Str("sid", string(sess.ID())).
			Str("displaced_sid", string(prev.ID())).
			Msg("user connected twice, older session displaced")
	}
}

// Disconnect drops sess from the registry. Room membership is kept.
func (o *Orchestrator) Disconnect(sess core.ClientSession) {
	o.Registry.Unregister(sess.User().ID, sess.ID())
}

func (o *Orchestrator) Handle(ctx context.Context, sess core.ClientSession, in protocol.Inbound) {
	switch m := in.(type) {
	case protocol.Join:
		o.Join(sess, m.Room)
	case protocol.RoomMessage:
		o.SendRoomMessage(ctx, sess, m.Room, m.Content)
	case protocol.DirectMessage:
		o.SendDirectMessage(ctx, sess, m.To, m.Content)
	case protocol.RoomHistory:
		o.RoomHistory(ctx, sess, m.Room, m.Limit)
	case protocol.DmHistory:
		o.DmHistory(ctx, sess, m.With, m.Limit)
	default:
		log.Warn().Str("module", "orch").Str("type", in.Type()).Msg("unhandled inbound type")
	}
}

func (o *Orchestrator) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.Limits.StoreTimeout > 0 {
		return context.WithTimeout(ctx, o.Limits.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) send(sess core.ClientSession, typ string, payload any) {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("encode frame")
		return
	}
	if err := sess.Conn().TrySend(frame); err != nil {
		o.onSendFailure(sess, err)
	}
}

func (o *Orchestrator) sendError(sess core.ClientSession, msg string) {
	o.send(sess, protocol.TypeError, protocol.Error{Message: msg})
}

// deliver pushes frame to uid if it is live. A missing recipient is not an error.
func (o *Orchestrator) deliver(uid domain.UserID, frame core.Frame) bool {
	sess, ok := o.Registry.Get(uid)
	if !ok {
		return false
	}
	if err := sess.Conn().TrySend(frame); err != nil {
		o.onSendFailure(sess, err)
		return false
	}
	return true
}

func (o *Orchestrator) onSendFailure(sess core.ClientSession, err error) {
	uid := sess.User().ID
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Err(err).Str("module", "orch").Int64("user", int64(uid)).Msg("send to closing session")
		return
	}
	action := app.DropFrame
	if o.Policy != nil {
		action = o.Policy.OnBackPressure(sess)
	}
	switch action {
	case app.KickMember:
		log.Warn().Str("module", "orch").Int64("user", int64(uid)).Str("sid", string(sess.ID())).Msg("outbound queue full, disconnecting slow consumer")
		o.Registry.CancelSession(uid, sess.ID())
		sess.Conn().Close()
	case app.DropFrame, app.NoAction:
		log.Warn().Str("module", "orch").Int64("user", int64(uid)).Msg("outbound queue full, frame dropped")
	}
}

func (o *Orchestrator) publish(ctx context.Context, msg domain.Message, username string) {
	if o.Events == nil {
		return
	}
	if err := o.Events.PublishMessage(ctx, msg, username); err != nil {
		log.Error().Err(err).Str("module", "orch").Int64("message", msg.ID).Msg("publish message event")
	}
}
