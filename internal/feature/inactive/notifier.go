// Package inactive periodically reminds users who have gone quiet.
package inactive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"shortlink_bot/internal/logging"
)

// DefaultMessage is sent to inactive users when no message is configured.
const DefaultMessage = "👋 Hey! It's been a while since you used me.\n\nNeed to shorten links? Just send me any URL 🔗\nI'm here to help 😎"

type inactiveStore interface {
	ListInactiveSince(ctx context.Context, threshold time.Duration, now time.Time) ([]int64, error)
	Touch(ctx context.Context, id int64) error
}

// MessageSender delivers a plain text message to one chat.
type MessageSender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Report summarizes one scan.
type Report struct {
	Found    int
	Notified int
	Failed   int
}

// Notifier scans for inactive users on a fixed interval.
type Notifier struct {
	store     inactiveStore
	sender    MessageSender
	threshold time.Duration
	interval  time.Duration
	message   string
	now       func() time.Time
	logger    *logrus.Entry
}

// NewNotifier constructs a Notifier. An empty message selects DefaultMessage.
func NewNotifier(store inactiveStore, sender MessageSender, threshold, interval time.Duration, message string, logger *logrus.Entry) *Notifier {
	if logger == nil {
		logger = logging.Logger()
	}
	if message == "" {
		message = DefaultMessage
	}

	return &Notifier{
		store:     store,
		sender:    sender,
		threshold: threshold,
		interval:  interval,
		message:   message,
		now:       time.Now,
		logger:    logger,
	}
}

// Run scans every interval until ctx is canceled. The first scan runs after
// one full interval.
func (n *Notifier) Run(ctx context.Context) error {
	if n == nil || n.store == nil || n.sender == nil {
		return errors.New("inactive notifier is not initialized")
	}
	if n.interval <= 0 || n.threshold <= 0 {
		return errors.New("inactive notifier requires positive interval and threshold")
	}

	n.logger.WithFields(logging.Fields{
		"event":     "inactive_notifier_started",
		"interval":  n.interval.String(),
		"threshold": n.threshold.String(),
	}).Info("inactive notifier started")

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.logger.WithField("event", "inactive_notifier_stopped").Info("inactive notifier stopped")
			return nil
		case <-ticker.C:
			if _, err := n.RunOnce(ctx); err != nil && ctx.Err() == nil {
				n.logger.WithField("event", "inactive_scan_error").WithError(err).Error("inactive scan failed")
			}
		}
	}
}

// RunOnce messages every user inactive for longer than the threshold and
// marks each of them active, whether or not delivery succeeded, so a user
// is reminded at most once per threshold period.
func (n *Notifier) RunOnce(ctx context.Context) (Report, error) {
	if n == nil || n.store == nil || n.sender == nil {
		return Report{}, errors.New("inactive notifier is not initialized")
	}
	if ctx == nil {
		return Report{}, errors.New("context is required")
	}

	ids, err := n.store.ListInactiveSince(ctx, n.threshold, n.now())
	if err != nil {
		return Report{}, fmt.Errorf("list inactive users: %w", err)
	}

	report := Report{Found: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if err := n.sender.SendText(ctx, id, n.message); err != nil {
			report.Failed++
			n.logger.WithFields(logging.Fields{
				"event":   "inactive_notify_failed",
				"user_id": id,
			}).WithError(err).Warn("failed to notify inactive user")
		} else {
			report.Notified++
		}

		if err := n.store.Touch(ctx, id); err != nil {
			n.logger.WithFields(logging.Fields{
				"event":   "inactive_touch_failed",
				"user_id": id,
			}).WithError(err).Error("failed to reset user activity")
		}
	}

	n.logger.WithFields(logging.Fields{
		"event":    "inactive_scan",
		"found":    report.Found,
		"notified": report.Notified,
		"failed":   report.Failed,
	}).Info("inactive scan finished")

	return report, nil
}
