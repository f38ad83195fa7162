// Package telegram hosts the Telegram client, routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"shortlink_bot/internal/config"
	"shortlink_bot/internal/domain"
	"shortlink_bot/internal/feature/broadcast"
	"shortlink_bot/internal/logging"
)

// botAPI is the subset of *bot.Bot the client drives.
type botAPI interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
}

type userFlows interface {
	Observe(ctx context.Context, userID int64) error
	RegisterToken(ctx context.Context, userID int64, token string) error
	Shorten(ctx context.Context, userID int64, longURL string) (string, error)
}

type adminGate interface {
	Login(ctx context.Context, userID int64, password string) error
	IsAdmin(ctx context.Context, userID int64) (bool, error)
}

type statsProvider interface {
	Stats(ctx context.Context) (domain.Stats, error)
}

type recipientLister interface {
	ListUsers(ctx context.Context) ([]int64, error)
}

type broadcaster interface {
	Broadcast(ctx context.Context, adminID int64, payload broadcast.Payload) (broadcast.Result, error)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Option configures optional client dependencies.
type Option func(*Client)

// WithUserFlows wires activity tracking, /api and link shortening.
func WithUserFlows(users userFlows) Option {
	return func(c *Client) {
		c.users = users
	}
}

// WithAdminGate wires /adminlogin and the admin checks of privileged commands.
func WithAdminGate(admins adminGate) Option {
	return func(c *Client) {
		c.admins = admins
	}
}

// WithStatsProvider wires /stats.
func WithStatsProvider(stats statsProvider) Option {
	return func(c *Client) {
		c.stats = stats
	}
}

// WithBroadcastRecipients enables the ad commands, delivering to every user
// the lister returns.
func WithBroadcastRecipients(recipients recipientLister) Option {
	return func(c *Client) {
		c.recipients = recipients
	}
}

// Client wraps the Telegram bot instance, its handlers and their dependencies.
type Client struct {
	bot    botAPI
	logger *logrus.Entry

	users       userFlows
	admins      adminGate
	stats       statsProvider
	recipients  recipientLister
	broadcaster broadcaster
	captures    *broadcast.Captures
	adsMessage  string
}

// NewClient initializes the Telegram bot with long polling and default handlers.
func NewClient(cfg config.Config, logger *logrus.Entry, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	captureWindow := cfg.BroadcastCaptureTimeout
	if captureWindow <= 0 {
		captureWindow = config.DefaultBroadcastCaptureTimeout
	}

	c := &Client{
		logger:     logger,
		captures:   broadcast.NewCaptures(captureWindow),
		adsMessage: firstNonEmpty(cfg.AdsMessage, config.DefaultAdsMessage),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(c.defaultHandler()),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	c.bot = tgBot

	if c.recipients != nil {
		c.broadcaster = broadcast.NewBroadcaster(c.recipients, c, logger)
	}

	return c, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// SendText sends a plain message to chatID.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}

	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}

	return nil
}

// Send delivers a broadcast payload to chatID. Ad text and captions use
// legacy Markdown so admins can write *bold* without escaping.
func (c *Client) Send(ctx context.Context, chatID int64, payload broadcast.Payload) error {
	if c == nil || c.bot == nil {
		return errors.New("telegram client is not initialized")
	}

	var err error
	switch payload.Kind {
	case broadcast.KindText:
		_, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      payload.Text,
			ParseMode: models.ParseModeMarkdownV1,
		})
	case broadcast.KindPhoto:
		_, err = c.bot.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:    chatID,
			Photo:     &models.InputFileString{Data: payload.FileID},
			Caption:   payload.Caption,
			ParseMode: models.ParseModeMarkdownV1,
		})
	case broadcast.KindVideo:
		_, err = c.bot.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:    chatID,
			Video:     &models.InputFileString{Data: payload.FileID},
			Caption:   payload.Caption,
			ParseMode: models.ParseModeMarkdownV1,
		})
	default:
		return fmt.Errorf("unsupported broadcast kind %q", payload.Kind)
	}
	if err != nil {
		return fmt.Errorf("send %s to %d: %w", payload.Kind, chatID, err)
	}

	return nil
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
