// Package user handles per-user flows: activity tracking, API token
// registration and link shortening.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"shortlink_bot/internal/logging"
)

var (
	// ErrTokenRequired is returned when /api is sent without a key.
	ErrTokenRequired = errors.New("api token is required")

	// ErrNoToken is returned when a user sends a link before registering a key.
	ErrNoToken = errors.New("no api token registered")
)

type userStore interface {
	Touch(ctx context.Context, id int64) error
	GetToken(ctx context.Context, id int64) (string, bool, error)
	SetToken(ctx context.Context, id int64, token string) error
}

type linkShortener interface {
	Shorten(ctx context.Context, token, longURL string) (string, error)
	Validate(ctx context.Context, token string) error
}

// Registrar records user activity and owns the token and shortening flows.
type Registrar struct {
	store     userStore
	shortener linkShortener
	logger    *logrus.Entry
}

// NewRegistrar constructs a Registrar over the user store and provider client.
func NewRegistrar(store userStore, shortener linkShortener, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Registrar{
		store:     store,
		shortener: shortener,
		logger:    logger,
	}
}

// Observe marks the user as active now, creating the record on first sight.
func (r *Registrar) Observe(ctx context.Context, userID int64) error {
	if err := r.ready(ctx, userID); err != nil {
		return err
	}

	if err := r.store.Touch(ctx, userID); err != nil {
		return fmt.Errorf("observe user: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "user_seen",
		"user_id": userID,
	}).Debug("updated user last active")

	return nil
}

// RegisterToken validates token with the provider and stores it for the user.
// An invalid token leaves any previously stored token in place.
func (r *Registrar) RegisterToken(ctx context.Context, userID int64, token string) error {
	if err := r.ready(ctx, userID); err != nil {
		return err
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenRequired
	}

	fields := logging.Fields{
		"user_id": userID,
		"token":   logging.MaskToken(token),
	}

	if err := r.shortener.Validate(ctx, token); err != nil {
		fields["event"] = "token_rejected"
		r.logger.WithFields(fields).WithError(err).Info("api token rejected")
		return fmt.Errorf("validate token: %w", err)
	}

	if err := r.store.SetToken(ctx, userID, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	fields["event"] = "token_registered"
	r.logger.WithFields(fields).Info("api token registered")

	return nil
}

// Shorten shortens longURL with the user's registered token.
func (r *Registrar) Shorten(ctx context.Context, userID int64, longURL string) (string, error) {
	if err := r.ready(ctx, userID); err != nil {
		return "", err
	}

	token, ok, err := r.store.GetToken(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	if !ok {
		return "", ErrNoToken
	}

	short, err := r.shortener.Shorten(ctx, token, longURL)
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"event":   "shorten_failed",
			"user_id": userID,
		}).WithError(err).Warn("failed to shorten link")
		return "", fmt.Errorf("shorten link: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "link_shortened",
		"user_id": userID,
	}).Info("shortened link")

	return short, nil
}

func (r *Registrar) ready(ctx context.Context, userID int64) error {
	if r == nil || r.store == nil || r.shortener == nil {
		return errors.New("user registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if userID == 0 {
		return errors.New("user id is required")
	}
	return nil
}
