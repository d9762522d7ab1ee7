package orch

import (
	"context"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join adds the caller to the live broadcast list of room. The room does not
// have to exist in the catalog.
func (o *Orchestrator) Join(sess core.ClientSession, room domain.RoomName) {
	uid := sess.User().ID
	if err := room.Validate(); err != nil {
		o.sendError(sess, err.Error())
		return
	}
	added := o.Rooms.GetOrCreate(room).Join(uid)
	log.Info().Str("module", "orch").Int64("user", int64(uid)).Str("room", string(room)).Bool("added", added).Msg("joined room")
	o.send(sess, protocol.TypeJoinAck, protocol.JoinAck{Room: room, Status: protocol.StatusOK})
}

// SendRoomMessage persists a room message and then pushes it to every live member.
func (o *Orchestrator) SendRoomMessage(ctx context.Context, sess core.ClientSession, room domain.RoomName, content string) {
	user := sess.User()
	logger := log.With().Str("module", "orch").Int64("user", int64(user.ID)).Str("room", string(room)).Logger()

	if err := o.Limits.checkContent(content); err != nil {
		o.sendError(sess, err.Error())
		return
	}

	opCtx, cancel := o.storeCtx(ctx)
	defer cancel()

	exists, err := o.Catalog.RoomExists(opCtx, room)
	if err != nil {
		logger.Error().Err(err).Msg("room lookup failed")
		o.sendError(sess, "could not verify room, try again later")
		return
	}
	if !exists {
		logger.Warn().Msg("message to unknown room")
		o.sendError(sess, "cannot send a message to a room that does not exist")
		return
	}

	msg, err := o.Store.InsertRoomMessage(opCtx, user.ID, room, content)
	if err != nil {
		logger.Error().Err(err).Msg("persist room message")
		o.sendError(sess, "message could not be stored")
		return
	}

	frame, err := protocol.Encode(protocol.TypeMessage, protocol.NewRoomBroadcast(msg, user.Username))
	if err != nil {
		logger.Error().Err(err).Msg("encode room message")
		o.sendError(sess, "message could not be delivered")
		return
	}

	delivered := 0
	if r, ok := o.Rooms.Get(room); ok {
		for _, member := range r.Members() {
			if o.deliver(member, frame) {
				delivered++
			}
		}
	}
	logger.Info().Int64("message", msg.ID).Int("delivered", delivered).Msg("room message stored and broadcast")

	o.send(sess, protocol.TypeMessageSent, protocol.MessageSent{Room: room, Status: protocol.StatusOK})
	o.publish(ctx, msg, user.Username)
}

// RoomHistory answers the caller only; it never broadcasts.
func (o *Orchestrator) RoomHistory(ctx context.Context, sess core.ClientSession, room domain.RoomName, limit *int) {
	n := o.Limits.historyLimit(limit)
	logger := log.With().Str("module", "orch").Int64("user", int64(sess.User().ID)).Str("room", string(room)).Int("limit", n).Logger()

	opCtx, cancel := o.storeCtx(ctx)
	defer cancel()

	exists, err := o.Catalog.RoomExists(opCtx, room)
	if err != nil {
		logger.Error().Err(err).Msg("room lookup failed")
		o.sendError(sess, "could not verify room, try again later")
		return
	}
	if !exists {
		o.sendError(sess, "unknown room")
		return
	}

	entries, err := o.Store.RoomHistory(opCtx, room, n)
	if err != nil {
		logger.Error().Err(err).Msg("read room history")
		o.sendError(sess, "history is unavailable")
		return
	}
	logger.Debug().Int("count", len(entries)).Msg("room history")
	o.send(sess, protocol.TypeRoomHistory, protocol.NewHistory(entries))
}
