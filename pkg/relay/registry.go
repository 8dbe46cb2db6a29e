// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// ThreadRecord is the durable mapping for one user who has messaged the
// bot. The title is derived from the user's profile at topic-creation time
// and never re-derived afterwards except when reconciliation builds a
// whole new record. Closed is the only field toggled after creation.
type ThreadRecord struct {
	ThreadID int    `json:"thread_id"`
	Title    string `json:"title"`
	Closed   bool   `json:"closed"`
}

// ThreadRegistry owns ThreadRecords and ban sentinels in the KeyValueStore.
//
// Beside every user record it maintains a thread→user reverse index entry
// so operator replies resolve in O(1). The store has no transactions, so
// the two writes are not atomic: on the reconciliation delete-then-recreate
// path the index can briefly lag, which is why FindUserByThread falls back
// to a full prefix scan and repairs the index on a scan hit.
type ThreadRegistry struct {
	store KeyValueStore
	log   zerolog.Logger
}

// NewThreadRegistry creates a registry on the given store.
func NewThreadRegistry(store KeyValueStore, log zerolog.Logger) *ThreadRegistry {
	return &ThreadRegistry{
		store: store,
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// Get returns the user's ThreadRecord, or nil if none exists.
func (r *ThreadRegistry) Get(ctx context.Context, userID int64) (*ThreadRecord, error) {
	raw, err := r.store.Get(ctx, UserKey(userID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var rec ThreadRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("corrupt thread record for user %d: %w", userID, err)
	}
	return &rec, nil
}

// Upsert overwrites the user's ThreadRecord (last writer wins) and writes
// the matching reverse-index entry.
func (r *ThreadRegistry) Upsert(ctx context.Context, userID int64, rec *ThreadRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode thread record: %w", err)
	}
	if err := r.store.Put(ctx, UserKey(userID), raw, 0); err != nil {
		return err
	}
	if err := r.putIndex(ctx, rec.ThreadID, userID); err != nil {
		// The scan fallback covers a missing index entry.
		r.log.Warn().Err(err).Int64("user_id", userID).Int("thread_id", rec.ThreadID).
			Msg("Failed to write thread reverse index")
	}
	return nil
}

// Delete removes the user's ThreadRecord and its reverse-index entry.
// Used exclusively during reconciliation.
func (r *ThreadRegistry) Delete(ctx context.Context, userID int64) error {
	rec, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}
	if rec != nil {
		if err := r.store.Delete(ctx, ThreadKey(rec.ThreadID)); err != nil {
			r.log.Warn().Err(err).Int("thread_id", rec.ThreadID).
				Msg("Failed to delete thread reverse index")
		}
	}
	return r.store.Delete(ctx, UserKey(userID))
}

// FindUserByThread resolves a forum topic ID to the user it is assigned
// to. The reverse index is consulted first; on a miss the registry falls
// back to enumerating all user records (O(active users), one store
// round-trip per record) and re-derives the index entry from the match.
func (r *ThreadRegistry) FindUserByThread(ctx context.Context, threadID int) (int64, bool, error) {
	raw, err := r.store.Get(ctx, ThreadKey(threadID))
	if err != nil {
		return 0, false, err
	}
	if raw != nil {
		var userID int64
		if err := json.Unmarshal(raw, &userID); err == nil {
			// The index can point at a stale record; trust it only if the
			// forward mapping still agrees.
			rec, err := r.Get(ctx, userID)
			if err != nil {
				return 0, false, err
			}
			if rec != nil && rec.ThreadID == threadID {
				return userID, true, nil
			}
		}
	}

	keys, err := r.store.ListKeys(ctx, userKeyPrefix)
	if err != nil {
		return 0, false, err
	}
	for _, key := range keys {
		userID, ok := ParseUserKey(key)
		if !ok {
			continue
		}
		rec, err := r.Get(ctx, userID)
		if err != nil {
			return 0, false, err
		}
		if rec != nil && rec.ThreadID == threadID {
			if err := r.putIndex(ctx, threadID, userID); err != nil {
				r.log.Warn().Err(err).Int("thread_id", threadID).
					Msg("Failed to repair thread reverse index")
			}
			return userID, true, nil
		}
	}
	return 0, false, nil
}

func (r *ThreadRegistry) putIndex(ctx context.Context, threadID int, userID int64) error {
	raw, err := json.Marshal(userID)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, ThreadKey(threadID), raw, 0)
}

// Ban writes the ban sentinel for a user. The sentinel is a separate key,
// not a record field, so it survives record deletion during reconciliation.
func (r *ThreadRegistry) Ban(ctx context.Context, userID int64) error {
	return r.store.Put(ctx, BanKey(userID), []byte("1"), 0)
}

// Unban removes the ban sentinel.
func (r *ThreadRegistry) Unban(ctx context.Context, userID int64) error {
	return r.store.Delete(ctx, BanKey(userID))
}

// IsBanned reports whether the ban sentinel exists for a user.
func (r *ThreadRegistry) IsBanned(ctx context.Context, userID int64) (bool, error) {
	raw, err := r.store.Get(ctx, BanKey(userID))
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}
