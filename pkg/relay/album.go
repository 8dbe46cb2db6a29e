// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"
)

// AlbumDirection marks which way an album is flowing.
type AlbumDirection string

const (
	// DirectionUserToGroup buffers parts of an album a user sent
	// privately, for delivery into their forum topic.
	DirectionUserToGroup AlbumDirection = "u2g"
	// DirectionGroupToUser buffers parts of an album an operator posted
	// in a topic, for delivery to the user's private chat.
	DirectionGroupToUser AlbumDirection = "g2u"
)

// AlbumBuffer accumulates the parts of one media album between arrivals.
// Items is append-only in arrival order. LastUpdate is the stamp of the
// most recent append; a deferred flush only fires if its captured stamp
// still equals this value.
type AlbumBuffer struct {
	Direction    AlbumDirection `json:"direction"`
	TargetChat   int64          `json:"target_chat"`
	TargetThread int            `json:"target_thread,omitempty"`
	Items        []MediaItem    `json:"items"`
	LastUpdate   int64          `json:"last_update"`
}

// AlbumAggregator coalesces the burst of separate updates making up one
// Telegram media album into a single outgoing sendMediaGroup batch.
//
// There is no cancellable timer per album: every arriving part persists
// the buffer with a fresh stamp and schedules its own deferred flush
// carrying that stamp. At wake time a flush whose stamp no longer matches
// the stored one is a no-op, so only the task scheduled by the last
// arriving part emits. The buffer entry carries a TTL as the backstop for
// a flush goroutine that never ran (process reclaimed); the batch is then
// silently dropped rather than leaked.
type AlbumAggregator struct {
	store   KeyValueStore
	gateway Gateway
	quiet   time.Duration
	ttl     time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
	log     zerolog.Logger
}

// NewAlbumAggregator creates an aggregator. Non-positive quiet or ttl fall
// back to the 2s / 60s defaults.
func NewAlbumAggregator(store KeyValueStore, gateway Gateway, quiet, ttl time.Duration, log zerolog.Logger) *AlbumAggregator {
	if quiet <= 0 {
		quiet = 2 * time.Second
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &AlbumAggregator{
		store:   store,
		gateway: gateway,
		quiet:   quiet,
		ttl:     ttl,
		now:     time.Now,
		log:     log.With().Str("component", "albums").Logger(),
	}
}

// ExtractMedia normalizes a message into a MediaItem, or returns nil when
// the content is not an aggregatable media type. Telegram lists photo
// renditions smallest first, so the last entry is the full-size one.
func ExtractMedia(msg *models.Message) *MediaItem {
	switch {
	case len(msg.Photo) > 0:
		return &MediaItem{Type: MediaPhoto, Media: msg.Photo[len(msg.Photo)-1].FileID, Caption: msg.Caption}
	case msg.Video != nil:
		return &MediaItem{Type: MediaVideo, Media: msg.Video.FileID, Caption: msg.Caption}
	case msg.Document != nil:
		return &MediaItem{Type: MediaDocument, Media: msg.Document.FileID, Caption: msg.Caption}
	default:
		return nil
	}
}

// Add intercepts one album part. Non-media parts bypass the buffer and are
// copied to the destination immediately as standalone messages. Media
// parts are appended to the buffer and a deferred flush is scheduled; the
// actual batch delivery happens asynchronously after the quiet period.
func (a *AlbumAggregator) Add(ctx context.Context, direction AlbumDirection, msg *models.Message, targetChat int64, targetThread int) error {
	item := ExtractMedia(msg)
	if item == nil {
		return a.gateway.CopyMessage(ctx, msg.Chat.ID, msg.ID, targetChat, targetThread)
	}

	key := AlbumKey(direction, msg.MediaGroupID)

	buf := &AlbumBuffer{
		Direction:    direction,
		TargetChat:   targetChat,
		TargetThread: targetThread,
	}
	raw, err := a.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if raw != nil {
		if err := json.Unmarshal(raw, buf); err != nil {
			a.log.Warn().Err(err).Str("key", key).Msg("Dropping corrupt album buffer")
			buf = &AlbumBuffer{Direction: direction, TargetChat: targetChat, TargetThread: targetThread}
		}
	}

	buf.Items = append(buf.Items, *item)
	stamp := a.now().UnixMilli()
	buf.LastUpdate = stamp

	encoded, err := json.Marshal(buf)
	if err != nil {
		return err
	}
	if err := a.store.Put(ctx, key, encoded, a.ttl); err != nil {
		return err
	}

	a.log.Debug().
		Str("key", key).
		Int("items", len(buf.Items)).
		Int64("stamp", stamp).
		Msg("Buffered album part")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		time.Sleep(a.quiet)
		// The triggering webhook request is long gone by now.
		a.flush(context.Background(), key, stamp)
	}()
	return nil
}

// flush emits the buffered batch if and only if the buffer still exists
// and its stamp matches the one this task captured. A mismatch means a
// newer part arrived after this task was scheduled and its own flush will
// (or did) handle the album.
func (a *AlbumAggregator) flush(ctx context.Context, key string, stamp int64) {
	raw, err := a.store.Get(ctx, key)
	if err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Failed to load album buffer for flush")
		return
	}
	if raw == nil {
		return
	}
	var buf AlbumBuffer
	if err := json.Unmarshal(raw, &buf); err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Corrupt album buffer at flush")
		return
	}
	if buf.LastUpdate != stamp {
		return
	}

	// Only the first item's caption is significant for the batch.
	items := make([]MediaItem, len(buf.Items))
	copy(items, buf.Items)
	for i := 1; i < len(items); i++ {
		items[i].Caption = ""
	}

	if err := a.gateway.SendMediaBatch(ctx, buf.TargetChat, buf.TargetThread, items); err != nil {
		// Leave the buffer in place; the TTL cleans it up.
		a.log.Error().Err(err).
			Str("key", key).
			Int("items", len(items)).
			Msg("Failed to deliver album batch")
		return
	}

	if err := a.store.Delete(ctx, key); err != nil {
		a.log.Warn().Err(err).Str("key", key).Msg("Failed to delete flushed album buffer")
	}

	a.log.Debug().
		Str("key", key).
		Int("items", len(items)).
		Msg("Delivered album batch")
}

// Wait blocks until all scheduled flush tasks have finished. Used by
// graceful shutdown and tests; normal operation never calls it.
func (a *AlbumAggregator) Wait() {
	a.wg.Wait()
}
