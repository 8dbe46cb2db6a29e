// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// Delivery describes where a relayed message actually ended up. Thread is
// the topic the platform reports the message attached to; 0 means the
// General (unthreaded) area of the group.
type Delivery struct {
	MessageID int
	Thread    int
}

// Profile is the subset of a Telegram user profile used to title topics.
type Profile struct {
	FirstName string
	LastName  string
	Username  string
}

// MediaItem is one normalized part of an outgoing media batch.
type MediaItem struct {
	Type    string `json:"type"`
	Media   string `json:"media"`
	Caption string `json:"caption,omitempty"`
}

// Media types accepted into album buffers. Anything else bypasses
// aggregation and is relayed as a standalone copy.
const (
	MediaPhoto    = "photo"
	MediaVideo    = "video"
	MediaDocument = "document"
)

// Gateway is the outbound surface of the messaging platform. It exists as
// an interface so tests can inject a recording fake instead of a live
// Telegram connection.
type Gateway interface {
	SendText(ctx context.Context, chat int64, thread int, text string) error
	ForwardMessage(ctx context.Context, fromChat int64, messageID int, toChat int64, toThread int) (*Delivery, error)
	CopyMessage(ctx context.Context, fromChat int64, messageID int, toChat int64, toThread int) error
	CreateThread(ctx context.Context, chat int64, title string) (int, error)
	SetThreadClosed(ctx context.Context, chat int64, thread int, closed bool) error
	DeleteMessage(ctx context.Context, chat int64, messageID int) error
	SendMediaBatch(ctx context.Context, chat int64, thread int, items []MediaItem) error
	GetUserProfile(ctx context.Context, userID int64) (*Profile, error)
}

// TelegramGateway implements Gateway against the Telegram Bot API.
type TelegramGateway struct {
	bot *bot.Bot
	log zerolog.Logger
}

var _ Gateway = (*TelegramGateway)(nil)

// NewTelegramGateway builds a gateway from the Telegram config. GetMe is
// skipped so construction does not require network access; the token is
// effectively verified by the first real call.
func NewTelegramGateway(cfg TelegramConfig, log zerolog.Logger) (*TelegramGateway, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.APIBase != "" {
		opts = append(opts, bot.WithServerURL(cfg.APIBase))
	}
	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return &TelegramGateway{
		bot: b,
		log: log.With().Str("component", "tg_gateway").Logger(),
	}, nil
}

func (g *TelegramGateway) SendText(ctx context.Context, chat int64, thread int, text string) error {
	_, err := g.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          chat,
		MessageThreadID: thread,
		Text:            text,
	})
	return err
}

func (g *TelegramGateway) ForwardMessage(ctx context.Context, fromChat int64, messageID int, toChat int64, toThread int) (*Delivery, error) {
	msg, err := g.bot.ForwardMessage(ctx, &bot.ForwardMessageParams{
		ChatID:          toChat,
		FromChatID:      fromChat,
		MessageID:       messageID,
		MessageThreadID: toThread,
	})
	if err != nil {
		return nil, err
	}
	return &Delivery{MessageID: msg.ID, Thread: msg.MessageThreadID}, nil
}

func (g *TelegramGateway) CopyMessage(ctx context.Context, fromChat int64, messageID int, toChat int64, toThread int) error {
	_, err := g.bot.CopyMessage(ctx, &bot.CopyMessageParams{
		ChatID:          toChat,
		FromChatID:      fromChat,
		MessageID:       messageID,
		MessageThreadID: toThread,
	})
	return err
}

func (g *TelegramGateway) CreateThread(ctx context.Context, chat int64, title string) (int, error) {
	topic, err := g.bot.CreateForumTopic(ctx, &bot.CreateForumTopicParams{
		ChatID: chat,
		Name:   title,
	})
	if err != nil {
		return 0, err
	}
	return topic.MessageThreadID, nil
}

func (g *TelegramGateway) SetThreadClosed(ctx context.Context, chat int64, thread int, closed bool) error {
	var err error
	if closed {
		_, err = g.bot.CloseForumTopic(ctx, &bot.CloseForumTopicParams{
			ChatID:          chat,
			MessageThreadID: thread,
		})
	} else {
		_, err = g.bot.ReopenForumTopic(ctx, &bot.ReopenForumTopicParams{
			ChatID:          chat,
			MessageThreadID: thread,
		})
	}
	return err
}

func (g *TelegramGateway) DeleteMessage(ctx context.Context, chat int64, messageID int) error {
	_, err := g.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chat,
		MessageID: messageID,
	})
	return err
}

func (g *TelegramGateway) SendMediaBatch(ctx context.Context, chat int64, thread int, items []MediaItem) error {
	media := make([]models.InputMedia, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case MediaVideo:
			media = append(media, &models.InputMediaVideo{Media: item.Media, Caption: item.Caption})
		case MediaDocument:
			media = append(media, &models.InputMediaDocument{Media: item.Media, Caption: item.Caption})
		default:
			media = append(media, &models.InputMediaPhoto{Media: item.Media, Caption: item.Caption})
		}
	}
	_, err := g.bot.SendMediaGroup(ctx, &bot.SendMediaGroupParams{
		ChatID:          chat,
		MessageThreadID: thread,
		Media:           media,
	})
	return err
}

func (g *TelegramGateway) GetUserProfile(ctx context.Context, userID int64) (*Profile, error) {
	info, err := g.bot.GetChat(ctx, &bot.GetChatParams{ChatID: userID})
	if err != nil {
		return nil, err
	}
	return &Profile{
		FirstName: info.FirstName,
		LastName:  info.LastName,
		Username:  info.Username,
	}, nil
}

// SetWebhook registers the webhook URL with Telegram. Not part of the
// Gateway interface; only the CLI uses it.
func (g *TelegramGateway) SetWebhook(ctx context.Context, url string) error {
	_, err := g.bot.SetWebhook(ctx, &bot.SetWebhookParams{URL: url})
	return err
}

// isThreadNotFound reports whether a delivery failure means the target
// forum topic no longer exists, which is the recoverable class that
// triggers reconciliation.
func isThreadNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "message thread not found")
}

// failureReason extracts the machine-readable reason text of a gateway
// failure for notices and logs.
func failureReason(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
