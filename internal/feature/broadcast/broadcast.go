// Package broadcast fans admin ads out to every known user.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"shortlink_bot/internal/logging"
)

// Kind identifies the media type of a broadcast.
type Kind string

const (
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// Payload is one ad. Photo and video payloads reference an uploaded Telegram
// file by FileID and may carry a Caption.
type Payload struct {
	Kind    Kind
	Text    string
	FileID  string
	Caption string
}

// Validate reports whether the payload can be sent.
func (p Payload) Validate() error {
	switch p.Kind {
	case KindText:
		if strings.TrimSpace(p.Text) == "" {
			return errors.New("text broadcast requires text")
		}
	case KindPhoto, KindVideo:
		if strings.TrimSpace(p.FileID) == "" {
			return fmt.Errorf("%s broadcast requires a file id", p.Kind)
		}
	default:
		return fmt.Errorf("unknown broadcast kind %q", p.Kind)
	}
	return nil
}

// Sender delivers a payload to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, payload Payload) error
}

type recipientLister interface {
	ListUsers(ctx context.Context) ([]int64, error)
}

// Result summarizes one broadcast run.
type Result struct {
	ID       string
	Total    int
	Sent     int
	Failed   int
	Duration time.Duration
}

// Broadcaster sends payloads to every user in the store, one at a time.
type Broadcaster struct {
	users  recipientLister
	sender Sender
	newID  func() string
	logger *logrus.Entry
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(users recipientLister, sender Sender, logger *logrus.Entry) *Broadcaster {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Broadcaster{
		users:  users,
		sender: sender,
		newID:  uuid.NewString,
		logger: logger,
	}
}

// Broadcast delivers payload to every known user. A failed recipient is logged
// and counted and does not stop the run. Cancellation stops the run and
// returns the partial result with the context error.
func (b *Broadcaster) Broadcast(ctx context.Context, adminID int64, payload Payload) (Result, error) {
	if b == nil || b.users == nil || b.sender == nil {
		return Result{}, errors.New("broadcaster is not initialized")
	}
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	if err := payload.Validate(); err != nil {
		return Result{}, err
	}

	recipients, err := b.users.ListUsers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list recipients: %w", err)
	}

	result := Result{
		ID:    b.newID(),
		Total: len(recipients),
	}
	logger := b.logger.WithFields(logging.Fields{
		"broadcast_id": result.ID,
		"kind":         string(payload.Kind),
		"admin_id":     adminID,
	})

	logger.WithFields(logging.Fields{
		"event":      "broadcast_started",
		"recipients": result.Total,
	}).Info("broadcast started")

	started := time.Now()
	for _, chatID := range recipients {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(started)
			logger.WithFields(logging.Fields{
				"event":  "broadcast_aborted",
				"sent":   result.Sent,
				"failed": result.Failed,
			}).WithError(err).Warn("broadcast aborted")
			return result, err
		}

		if err := b.sender.Send(ctx, chatID, payload); err != nil {
			result.Failed++
			logger.WithFields(logging.Fields{
				"event":   "broadcast_send_failed",
				"chat_id": chatID,
			}).WithError(err).Warn("broadcast delivery failed")
			continue
		}
		result.Sent++
	}
	result.Duration = time.Since(started)

	logger.WithFields(logging.Fields{
		"event":       "broadcast_finished",
		"recipients":  result.Total,
		"sent":        result.Sent,
		"failed":      result.Failed,
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("broadcast finished")

	return result, nil
}
