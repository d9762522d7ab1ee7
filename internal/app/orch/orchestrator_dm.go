package orch

import (
	"context"

	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/domain"
	"github.com/dkeye/Chat/internal/protocol"
	"github.com/rs/zerolog/log"
)

// SendDirectMessage persists a message for to and delivers it if to is online.
func (o *Orchestrator) SendDirectMessage(ctx context.Context, sess core.ClientSession, to domain.UserID, content string) {
	user := sess.User()
	logger := log.With().Str("module", "orch").Int64("user", int64(user.ID)).Int64("to", int64(to)).Logger()

	if err := o.Limits.checkContent(content); err != nil {
		o.sendError(sess, err.Error())
		return
	}

	opCtx, cancel := o.storeCtx(ctx)
	defer cancel()

	exists, err := o.Catalog.UserExists(opCtx, to)
	if err != nil {
		logger.Error().Err(err).Msg("user lookup failed")
		o.sendError(sess, "could not verify recipient, try again later")
		return
	}
	if !exists {
		logger.Warn().Msg("dm to unknown user")
		o.sendError(sess, "recipient not found")
		return
	}

	msg, err := o.Store.InsertDirectMessage(opCtx, user.ID, to, content)
	if err != nil {
		logger.Error().Err(err).Msg("persist direct message")
		o.sendError(sess, "message could not be stored")
		return
	}

	frame, err := protocol.Encode(protocol.TypeDM, protocol.NewDirectDelivery(msg, user.Username))
	if err != nil {
		logger.Error().Err(err).Msg("encode direct message")
		o.sendError(sess, "message could not be delivered")
		return
	}
	online := o.deliver(to, frame)
	logger.Info().Int64("message", msg.ID).Bool("delivered", online).Msg("direct message stored")

	o.send(sess, protocol.TypeDMSent, protocol.DMSent{To: to, Status: protocol.StatusOK})
	o.publish(ctx, msg, user.Username)
}

// DmHistory returns the conversation between the caller and with.
func (o *Orchestrator) DmHistory(ctx context.Context, sess core.ClientSession, with domain.UserID, limit *int) {
	uid := sess.User().ID
	n := o.Limits.historyLimit(limit)
	logger := log.With().Str("module", "orch").Int64("user", int64(uid)).Int64("with", int64(with)).Int("limit", n).Logger()

	opCtx, cancel := o.storeCtx(ctx)
	defer cancel()

	exists, err := o.Catalog.UserExists(opCtx, with)
	if err != nil {
		logger.Error().Err(err).Msg("user lookup failed")
		o.sendError(sess, "could not verify user, try again later")
		return
	}
	if !exists {
		o.sendError(sess, "user not found")
		return
	}

	entries, err := o.Store.DirectHistory(opCtx, uid, with, n)
	if err != nil {
		logger.Error().Err(err).Msg("read dm history")
		o.sendError(sess, "history is unavailable")
		return
	}
	logger.Debug().Int("count", len(entries)).Msg("dm history")
	o.send(sess, protocol.TypeDMHistory, protocol.NewHistory(entries))
}
