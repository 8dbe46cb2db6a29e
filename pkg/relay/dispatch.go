// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher classifies inbound webhook updates and routes them to the
// engine. Anything it cannot place — no message body, an unrecognized
// chat, a group message outside any topic — is dropped without error.
type Dispatcher struct {
	engine    *RelayEngine
	groupChat int64
	log       zerolog.Logger
}

// NewDispatcher creates a dispatcher for the configured supergroup.
func NewDispatcher(engine *RelayEngine, groupChat int64, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		groupChat: groupChat,
		log:       log.With().Str("component", "dispatch").Logger(),
	}
}

// HandleUpdate processes one inbound update. Errors are logged here, not
// returned: the webhook transport always acknowledges receipt, and any
// user-visible failure handling already happened inside the engine.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	log := d.log.With().
		Str("correlation_id", uuid.NewString()).
		Int64("update_id", update.ID).
		Int64("chat_id", msg.Chat.ID).
		Logger()

	switch {
	case msg.Chat.Type == models.ChatTypePrivate:
		if err := d.engine.HandleUserMessage(ctx, msg); err != nil {
			log.Error().Err(err).Msg("Failed to relay user message")
		}

	case msg.Chat.ID == d.groupChat:
		d.handleGroupMessage(ctx, msg, log)

	default:
		log.Debug().Msg("Ignoring update from unrecognized chat")
	}
}

func (d *Dispatcher) handleGroupMessage(ctx context.Context, msg *models.Message, log zerolog.Logger) {
	if msg.MessageThreadID == 0 {
		return
	}

	// Topic lifecycle service messages toggle the mapping state without
	// any relay.
	if msg.ForumTopicClosed != nil {
		if err := d.engine.SetThreadState(ctx, msg.MessageThreadID, true); err != nil {
			log.Error().Err(err).Msg("Failed to mark conversation closed")
		}
		return
	}
	if msg.ForumTopicReopened != nil {
		if err := d.engine.SetThreadState(ctx, msg.MessageThreadID, false); err != nil {
			log.Error().Err(err).Msg("Failed to mark conversation reopened")
		}
		return
	}

	if err := d.engine.HandleOperatorMessage(ctx, msg); err != nil {
		log.Error().Err(err).Msg("Failed to relay operator message")
	}
}
