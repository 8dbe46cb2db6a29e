// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// Fixed user-facing notices.
const (
	noticeClosed       = "🚫 This conversation has been closed by an operator."
	noticeNeedUsername = "⚠️ Please set a Telegram username before sending messages."
	noticeSystemError  = "⚠️ System error\n\n%s"
)

// errMisdelivered marks a forward that Telegram accepted but attached to
// the wrong (or no) topic instead of the requested one.
var errMisdelivered = errors.New("message delivered outside the requested thread")

// RelayEngine moves one message across the private-chat/group boundary.
//
// User→group messages are forwarded, preserving the sender's attribution
// so operators see who wrote what. Operator replies are copied, not
// forwarded, deliberately stripping the operator's identity and the group
// context from what the user receives.
type RelayEngine struct {
	gateway  Gateway
	registry *ThreadRegistry
	albums   *AlbumAggregator
	admin    *AdminCommandProcessor

	groupChat       int64
	requireUsername bool
	log             zerolog.Logger
}

// NewRelayEngine wires the engine to its collaborators.
func NewRelayEngine(gateway Gateway, registry *ThreadRegistry, albums *AlbumAggregator, admin *AdminCommandProcessor, groupChat int64, requireUsername bool, log zerolog.Logger) *RelayEngine {
	return &RelayEngine{
		gateway:         gateway,
		registry:        registry,
		albums:          albums,
		admin:           admin,
		groupChat:       groupChat,
		requireUsername: requireUsername,
		log:             log.With().Str("component", "engine").Logger(),
	}
}

// HandleUserMessage relays one private-chat message into the user's forum
// topic, creating the topic lazily on first contact and reconciling the
// mapping when the topic has vanished.
func (e *RelayEngine) HandleUserMessage(ctx context.Context, msg *models.Message) error {
	userID := msg.Chat.ID
	log := e.log.With().Int64("user_id", userID).Int("message_id", msg.ID).Logger()

	if strings.HasPrefix(msg.Text, "/") {
		return nil
	}
	banned, err := e.registry.IsBanned(ctx, userID)
	if err != nil {
		return err
	}
	if banned {
		log.Debug().Msg("Dropping message from banned user")
		return nil
	}

	if e.requireUsername && (msg.From == nil || msg.From.Username == "") {
		return e.gateway.SendText(ctx, userID, 0, noticeNeedUsername)
	}

	rec, err := e.registry.Get(ctx, userID)
	if err != nil {
		return err
	}
	if rec != nil && rec.Closed {
		log.Debug().Int("thread_id", rec.ThreadID).Msg("Conversation closed, rejecting message")
		return e.gateway.SendText(ctx, userID, 0, noticeClosed)
	}
	if rec == nil {
		rec, err = e.createMapping(ctx, userID, profileFromUser(msg.From))
		if err != nil {
			return e.fatal(ctx, userID, log, err)
		}
		log.Info().Int("thread_id", rec.ThreadID).Str("title", rec.Title).Msg("Created topic for new user")
	}

	if msg.MediaGroupID != "" {
		return e.albums.Add(ctx, DirectionUserToGroup, msg, e.groupChat, rec.ThreadID)
	}

	err = e.forwardOnce(ctx, userID, msg.ID, rec.ThreadID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errMisdelivered) || isThreadNotFound(err):
		// Recoverable: the assigned topic is gone. Rebuild and retry once.
	default:
		return e.fatal(ctx, userID, log, err)
	}

	log.Warn().Err(err).Int("stale_thread_id", rec.ThreadID).Msg("Topic vanished, reconciling")
	fresh, err := e.reconcile(ctx, userID)
	if err != nil {
		return e.fatal(ctx, userID, log, err)
	}
	if err := e.forwardOnce(ctx, userID, msg.ID, fresh.ThreadID); err != nil {
		// One retry only; a second failure propagates.
		return e.fatal(ctx, userID, log, fmt.Errorf("retry after reconciliation failed: %w", err))
	}
	log.Info().Int("thread_id", fresh.ThreadID).Msg("Relayed message into fresh topic")
	return nil
}

// forwardOnce performs a single forward attempt and classifies the
// outcome. A success whose echoed thread differs from the requested one is
// the silent-misdelivery symptom of a deleted topic: the errant copy is
// removed best-effort and errMisdelivered is returned.
func (e *RelayEngine) forwardOnce(ctx context.Context, userID int64, messageID, threadID int) error {
	d, err := e.gateway.ForwardMessage(ctx, userID, messageID, e.groupChat, threadID)
	if err != nil {
		return err
	}
	if threadID != 0 && d.Thread != threadID {
		if derr := e.gateway.DeleteMessage(ctx, e.groupChat, d.MessageID); derr != nil {
			// Compensation only; its failure must not block recovery.
			e.log.Warn().Err(derr).
				Int("message_id", d.MessageID).
				Msg("Failed to delete misdelivered message")
		}
		return fmt.Errorf("%w: requested %d, landed in %d", errMisdelivered, threadID, d.Thread)
	}
	return nil
}

// reconcile drops the stale mapping and builds a fresh one, deriving the
// topic title from the user's current profile.
func (e *RelayEngine) reconcile(ctx context.Context, userID int64) (*ThreadRecord, error) {
	if err := e.registry.Delete(ctx, userID); err != nil {
		return nil, err
	}
	profile, err := e.gateway.GetUserProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile for reconciliation: %w", err)
	}
	return e.createMapping(ctx, userID, profile)
}

// createMapping creates a topic and persists the new ThreadRecord.
func (e *RelayEngine) createMapping(ctx context.Context, userID int64, profile *Profile) (*ThreadRecord, error) {
	title := topicTitle(profile)
	threadID, err := e.gateway.CreateThread(ctx, e.groupChat, title)
	if err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	rec := &ThreadRecord{ThreadID: threadID, Title: title}
	if err := e.registry.Upsert(ctx, userID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// HandleOperatorMessage relays one topic message back to the mapped user,
// or applies it as an admin command. Messages in untracked topics are
// ignored.
func (e *RelayEngine) HandleOperatorMessage(ctx context.Context, msg *models.Message) error {
	threadID := msg.MessageThreadID
	userID, ok, err := e.registry.FindUserByThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	log := e.log.With().Int64("user_id", userID).Int("thread_id", threadID).Logger()

	if cmd := parseAdminCommand(msg.Text); cmd != cmdNone {
		return e.admin.Apply(ctx, cmd, userID, threadID)
	}

	if msg.MediaGroupID != "" {
		return e.albums.Add(ctx, DirectionGroupToUser, msg, userID, 0)
	}

	// No reconciliation on this path: there is no destination-side state
	// to repair if the user is unreachable.
	if err := e.gateway.CopyMessage(ctx, e.groupChat, msg.ID, userID, 0); err != nil {
		log.Error().Err(err).Msg("Failed to copy operator reply to user")
		return err
	}
	return nil
}

// SetThreadState toggles the closed flag of the record mapped to a topic,
// in response to the topic being closed or reopened from the Telegram UI.
func (e *RelayEngine) SetThreadState(ctx context.Context, threadID int, closed bool) error {
	userID, ok, err := e.registry.FindUserByThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	rec, err := e.registry.Get(ctx, userID)
	if err != nil || rec == nil {
		return err
	}
	rec.Closed = closed
	e.log.Info().
		Int64("user_id", userID).
		Int("thread_id", threadID).
		Bool("closed", closed).
		Msg("Topic state changed externally")
	return e.registry.Upsert(ctx, userID, rec)
}

// fatal reports an unrecoverable failure back to the user as a fixed
// system-error notice and propagates the error. The notice itself is
// best-effort.
func (e *RelayEngine) fatal(ctx context.Context, userID int64, log zerolog.Logger, err error) error {
	log.Error().Err(err).Msg("Relay failed")
	if nerr := e.gateway.SendText(ctx, userID, 0, fmt.Sprintf(noticeSystemError, failureReason(err))); nerr != nil {
		log.Warn().Err(nerr).Msg("Failed to deliver system-error notice")
	}
	return err
}

// profileFromUser builds a Profile from the sender info carried on the
// message, avoiding a gateway round-trip on the first-contact path.
func profileFromUser(u *models.User) *Profile {
	if u == nil {
		return &Profile{}
	}
	return &Profile{FirstName: u.FirstName, LastName: u.LastName, Username: u.Username}
}

// topicTitle derives the display label for a user's topic.
func topicTitle(p *Profile) string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if p.Username != "" {
		if name == "" {
			return "@" + p.Username
		}
		return name + " @" + p.Username
	}
	return name
}
