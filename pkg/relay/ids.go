// Copyright 2024-2026 Aiku AI

package relay

import (
	"strconv"
	"strings"
)

// Key prefixes used in the KeyValueStore. The user record is the primary
// mapping; the thread entry is a reverse index kept beside it; the ban
// sentinel is deliberately a separate key so a ban survives the record
// being deleted and recreated during reconciliation.
const (
	userKeyPrefix   = "user:"
	banKeyPrefix    = "banned:"
	threadKeyPrefix = "thread:"
	albumKeyPrefix  = "mg:"
)

// UserKey builds the ThreadRecord key for a Telegram user ID.
func UserKey(userID int64) string {
	return userKeyPrefix + strconv.FormatInt(userID, 10)
}

// ParseUserKey extracts the user ID from a ThreadRecord key.
func ParseUserKey(key string) (int64, bool) {
	rest, ok := strings.CutPrefix(key, userKeyPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// BanKey builds the ban sentinel key for a user ID.
func BanKey(userID int64) string {
	return banKeyPrefix + strconv.FormatInt(userID, 10)
}

// ThreadKey builds the reverse-index key for a forum topic ID.
func ThreadKey(threadID int) string {
	return threadKeyPrefix + strconv.Itoa(threadID)
}

// AlbumKey builds the buffer key for one (direction, media group) pair.
func AlbumKey(direction AlbumDirection, groupID string) string {
	return albumKeyPrefix + string(direction) + ":" + groupID
}
