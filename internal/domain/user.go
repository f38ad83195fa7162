// Package domain defines the user record and the store contract shared by the
// bot features and the storage backends.
package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// User is the record kept for every chat participant the bot has observed.
type User struct {
	ID           int64     `bson:"user_id"`
	APIToken     string    `bson:"token,omitempty"`
	LastActiveAt time.Time `bson:"last_active_at,omitempty"`
	IsAdmin      bool      `bson:"is_admin"`
}

// HasToken reports whether the user registered a shortener credential.
func (u User) HasToken() bool {
	return u.APIToken != ""
}

// Stats summarizes the stored records.
type Stats struct {
	Users     int64
	Admins    int64
	WithToken int64
}

// ParseUserID canonicalizes an identifier read from storage or a command
// argument. Only decimal integers are accepted.
func ParseUserID(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, errors.New("user id is empty")
	}

	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user id %q: %w", raw, err)
	}

	return id, nil
}

// FormatUserID renders the canonical string key for an identifier.
func FormatUserID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Truncate normalizes a timestamp to UTC milliseconds so it survives a
// round-trip through either backend unchanged.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
