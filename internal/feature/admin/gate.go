// Package admin grants and checks the admin flag on user records.
package admin

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"shortlink_bot/internal/logging"
)

// ErrWrongPassword is returned by Login when the password does not match.
var ErrWrongPassword = errors.New("wrong admin password")

type adminStore interface {
	AddAdmin(ctx context.Context, id int64) error
	IsAdmin(ctx context.Context, id int64) (bool, error)
}

// Gate promotes users who present the shared password.
type Gate struct {
	store    adminStore
	password string
	logger   *logrus.Entry
}

// NewGate constructs a Gate checking against password.
func NewGate(store adminStore, password string, logger *logrus.Entry) *Gate {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Gate{
		store:    store,
		password: password,
		logger:   logger,
	}
}

// Login makes userID an admin if password matches. Repeating a successful
// login is a no-op.
func (g *Gate) Login(ctx context.Context, userID int64, password string) error {
	if err := g.ready(ctx); err != nil {
		return err
	}
	if userID == 0 {
		return errors.New("user id is required")
	}

	if g.password == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(password)), []byte(g.password)) != 1 {
		g.logger.WithFields(logging.Fields{
			"event":   "admin_login_failed",
			"user_id": userID,
		}).Warn("admin login rejected")
		return ErrWrongPassword
	}

	if err := g.store.AddAdmin(ctx, userID); err != nil {
		return fmt.Errorf("grant admin: %w", err)
	}

	g.logger.WithFields(logging.Fields{
		"event":   "admin_login",
		"user_id": userID,
	}).Info("user granted admin")

	return nil
}

// EnsureAdmins grants admin to every configured id at startup.
func (g *Gate) EnsureAdmins(ctx context.Context, ids []int64) error {
	if err := g.ready(ctx); err != nil {
		return err
	}

	var granted int
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if err := g.store.AddAdmin(ctx, id); err != nil {
			return fmt.Errorf("ensure admin %d: %w", id, err)
		}
		granted++
	}

	g.logger.WithFields(logging.Fields{
		"event":  "admin_bootstrap",
		"admins": granted,
	}).Info("ensured configured admins")

	return nil
}

// IsAdmin reports whether userID holds the admin flag.
func (g *Gate) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	if err := g.ready(ctx); err != nil {
		return false, err
	}

	ok, err := g.store.IsAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}

	return ok, nil
}

func (g *Gate) ready(ctx context.Context) error {
	if g == nil || g.store == nil {
		return errors.New("admin gate is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	return nil
}
