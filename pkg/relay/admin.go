// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// adminCommand is the closed set of operator commands recognized inside a
// topic. The raw text is decoded once and dispatched through a single
// switch rather than compared inline at each call site.
type adminCommand int

const (
	cmdNone adminCommand = iota
	cmdClose
	cmdOpen
	cmdBan
	cmdUnban
	cmdInfo
)

// parseAdminCommand decodes an operator message into a command. Only exact
// matches count; anything else is a regular reply to relay.
func parseAdminCommand(text string) adminCommand {
	switch strings.TrimSpace(text) {
	case "/close":
		return cmdClose
	case "/open":
		return cmdOpen
	case "/ban":
		return cmdBan
	case "/unban":
		return cmdUnban
	case "/info":
		return cmdInfo
	default:
		return cmdNone
	}
}

// AdminCommandProcessor applies operator commands to the registry and,
// where needed, mirrors the state change to the Telegram topic itself.
type AdminCommandProcessor struct {
	gateway   Gateway
	registry  *ThreadRegistry
	groupChat int64
	log       zerolog.Logger
}

// NewAdminCommandProcessor creates a processor bound to the shared group.
func NewAdminCommandProcessor(gateway Gateway, registry *ThreadRegistry, groupChat int64, log zerolog.Logger) *AdminCommandProcessor {
	return &AdminCommandProcessor{
		gateway:   gateway,
		registry:  registry,
		groupChat: groupChat,
		log:       log.With().Str("component", "admin").Logger(),
	}
}

// Apply executes one decoded command against the user mapped to the topic.
func (p *AdminCommandProcessor) Apply(ctx context.Context, cmd adminCommand, userID int64, threadID int) error {
	switch cmd {
	case cmdClose:
		return p.setClosed(ctx, userID, threadID, true)
	case cmdOpen:
		return p.setClosed(ctx, userID, threadID, false)
	case cmdBan:
		p.log.Info().Int64("user_id", userID).Msg("Banning user")
		return p.registry.Ban(ctx, userID)
	case cmdUnban:
		p.log.Info().Int64("user_id", userID).Msg("Unbanning user")
		return p.registry.Unban(ctx, userID)
	case cmdInfo:
		return p.sendInfo(ctx, userID, threadID)
	default:
		return nil
	}
}

// setClosed toggles the closed flag on the record and the Telegram topic.
// A missing record is silently ignored: the registry may legitimately lack
// one for a topic this system never created.
func (p *AdminCommandProcessor) setClosed(ctx context.Context, userID int64, threadID int, closed bool) error {
	rec, err := p.registry.Get(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	rec.Closed = closed
	if err := p.registry.Upsert(ctx, userID, rec); err != nil {
		return err
	}
	p.log.Info().
		Int64("user_id", userID).
		Int("thread_id", threadID).
		Bool("closed", closed).
		Msg("Toggled conversation state")
	return p.gateway.SetThreadClosed(ctx, p.groupChat, threadID, closed)
}

// sendInfo posts the mapped user's profile summary into the topic.
func (p *AdminCommandProcessor) sendInfo(ctx context.Context, userID int64, threadID int) error {
	profile, err := p.gateway.GetUserProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to fetch user profile: %w", err)
	}
	fullName := strings.TrimSpace(profile.FirstName + " " + profile.LastName)
	username := "not set"
	if profile.Username != "" {
		username = "@" + profile.Username
	}
	text := fmt.Sprintf("👤 User info\nUID: %d\nName: %s\nUsername: %s", userID, fullName, username)
	return p.gateway.SendText(ctx, p.groupChat, threadID, text)
}
