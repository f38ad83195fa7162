package telegram

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"shortlink_bot/internal/domain"
	"shortlink_bot/internal/feature/admin"
	"shortlink_bot/internal/feature/broadcast"
	"shortlink_bot/internal/feature/links"
	"shortlink_bot/internal/feature/user"
	"shortlink_bot/internal/logging"
	"shortlink_bot/internal/shortener"
)

const (
	cmdStart        = "start"
	cmdAPI          = "api"
	cmdAdminLogin   = "adminlogin"
	cmdSendAds      = "sendads"
	cmdSendImgAds   = "sendimgads"
	cmdSendVideoAds = "sendvideoads"
	cmdStats        = "stats"
)

// Commands whose arguments are secrets and must not reach the logs.
var secretCommands = map[string]bool{
	cmdAPI:        true,
	cmdAdminLogin: true,
}

type updateMeta struct {
	userID     int64
	chatID     int64
	text       string
	updateType string
}

func (c *Client) defaultHandler() bot.HandlerFunc {
	return func(ctx context.Context, _ *bot.Bot, update *models.Update) {
		c.handleUpdate(ctx, update)
	}
}

func (c *Client) handleUpdate(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}

	meta := extractUpdateMeta(update)
	command, args := parseCommand(meta.text)

	fields := logging.Context{
		UserID:  meta.userID,
		ChatID:  meta.chatID,
		Event:   "telegram_update",
		Command: command,
	}.Fields()
	fields["update_type"] = meta.updateType
	switch {
	case command != "":
		if !secretCommands[command] && args != "" {
			fields["text"] = args
		}
	case meta.text != "":
		fields["text"] = meta.text
	}

	c.logger.WithFields(fields).Info("telegram update received")

	msg := update.Message
	if msg == nil || meta.chatID == 0 {
		return
	}

	if c.users != nil {
		if err := c.users.Observe(ctx, meta.chatID); err != nil {
			c.logger.WithFields(logging.Fields{
				"event":   "user_observe_error",
				"chat_id": meta.chatID,
			}).WithError(err).Warn("failed to record user activity")
		}
	}

	switch {
	case len(msg.Photo) > 0:
		c.handleMedia(ctx, msg, broadcast.Payload{
			Kind:    broadcast.KindPhoto,
			FileID:  msg.Photo[len(msg.Photo)-1].FileID,
			Caption: msg.Caption,
		})
	case msg.Video != nil:
		c.handleMedia(ctx, msg, broadcast.Payload{
			Kind:    broadcast.KindVideo,
			FileID:  msg.Video.FileID,
			Caption: msg.Caption,
		})
	case command != "":
		c.handleCommand(ctx, msg, command, args)
	case meta.text != "":
		c.handleLinks(ctx, msg.Chat.ID, meta.text)
	}
}

func (c *Client) handleCommand(ctx context.Context, msg *models.Message, command, args string) {
	chatID := msg.Chat.ID

	switch command {
	case cmdStart:
		c.reply(ctx, chatID, welcomeText(displayName(msg.From)), models.ParseModeMarkdown)
	case cmdAPI:
		c.handleAPI(ctx, chatID, args)
	case cmdAdminLogin:
		c.handleAdminLogin(ctx, msg, args)
	case cmdSendAds:
		if !c.requireAdmin(ctx, chatID, command) {
			return
		}
		c.runBroadcast(ctx, chatID, broadcast.Payload{Kind: broadcast.KindText, Text: c.adsMessage})
	case cmdSendImgAds:
		c.armCapture(ctx, chatID, command, broadcast.KindPhoto, msgSendImage)
	case cmdSendVideoAds:
		c.armCapture(ctx, chatID, command, broadcast.KindVideo, msgSendVideo)
	case cmdStats:
		c.handleStats(ctx, chatID)
	}
}

func (c *Client) handleAPI(ctx context.Context, chatID int64, token string) {
	if c.users == nil {
		c.reply(ctx, chatID, msgUnavailable, "")
		return
	}
	if strings.TrimSpace(token) == "" {
		c.reply(ctx, chatID, msgAPIUsage, "")
		return
	}

	err := c.users.RegisterToken(ctx, chatID, token)
	switch {
	case err == nil:
		c.reply(ctx, chatID, msgAPISaved, "")
	case errors.Is(err, shortener.ErrInvalidToken):
		c.reply(ctx, chatID, msgAPIInvalid, "")
	case errors.Is(err, domain.ErrPersistence):
		c.reply(ctx, chatID, msgSaveFailed, "")
	default:
		c.reply(ctx, chatID, msgAPIUnreachable, "")
	}
}

func (c *Client) handleAdminLogin(ctx context.Context, msg *models.Message, password string) {
	chatID := msg.Chat.ID

	if _, err := c.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: msg.ID,
	}); err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_delete_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to delete admin login message")
	}

	if c.admins == nil {
		c.reply(ctx, chatID, msgUnavailable, "")
		return
	}
	if strings.TrimSpace(password) == "" {
		c.reply(ctx, chatID, msgLoginUsage, "")
		return
	}

	err := c.admins.Login(ctx, chatID, password)
	switch {
	case err == nil:
		c.reply(ctx, chatID, loginAcceptedText(), models.ParseModeMarkdown)
	case errors.Is(err, admin.ErrWrongPassword):
		c.reply(ctx, chatID, msgWrongPassword, "")
	default:
		c.reply(ctx, chatID, msgSaveFailed, "")
	}
}

func (c *Client) handleStats(ctx context.Context, chatID int64) {
	if !c.requireAdmin(ctx, chatID, cmdStats) {
		return
	}
	if c.stats == nil {
		c.reply(ctx, chatID, msgUnavailable, "")
		return
	}

	stats, err := c.stats.Stats(ctx)
	if err != nil {
		c.logger.WithField("event", "stats_error").WithError(err).Error("failed to load stats")
		c.reply(ctx, chatID, msgStatsUnavailable, "")
		return
	}

	c.reply(ctx, chatID, statsText(stats), "")
}

func (c *Client) armCapture(ctx context.Context, chatID int64, command string, kind broadcast.Kind, prompt string) {
	if !c.requireAdmin(ctx, chatID, command) {
		return
	}
	if c.broadcaster == nil {
		c.reply(ctx, chatID, msgUnavailable, "")
		return
	}

	expires := c.captures.Arm(chatID, kind)
	c.logger.WithFields(logging.Fields{
		"event":      "broadcast_capture_armed",
		"chat_id":    chatID,
		"kind":       string(kind),
		"expires_at": expires,
	}).Info("waiting for broadcast media")

	c.reply(ctx, chatID, prompt, "")
}

func (c *Client) handleMedia(ctx context.Context, msg *models.Message, payload broadcast.Payload) {
	chatID := msg.Chat.ID
	if c.broadcaster == nil || !c.captures.Take(chatID, payload.Kind) {
		return
	}

	// Admin rights may have been lost since the capture was armed.
	if !c.requireAdmin(ctx, chatID, "media_capture") {
		return
	}

	c.runBroadcast(ctx, chatID, payload)
}

func (c *Client) runBroadcast(ctx context.Context, chatID int64, payload broadcast.Payload) {
	if c.broadcaster == nil {
		c.reply(ctx, chatID, msgUnavailable, "")
		return
	}

	result, err := c.broadcaster.Broadcast(ctx, chatID, payload)
	if err != nil && result.ID == "" {
		c.logger.WithFields(logging.Fields{
			"event":   "broadcast_error",
			"chat_id": chatID,
		}).WithError(err).Error("broadcast failed")
		c.reply(ctx, chatID, msgBroadcastFailed, "")
		return
	}

	c.reply(ctx, chatID, broadcastReport(payload.Kind, result), "")
}

func (c *Client) handleLinks(ctx context.Context, chatID int64, text string) {
	link, ok := links.First(text)
	if !ok || c.users == nil {
		return
	}

	short, err := c.users.Shorten(ctx, chatID, links.Normalize(link))
	switch {
	case err == nil:
		c.reply(ctx, chatID, shortenedText(link, short), models.ParseModeMarkdown)
	case errors.Is(err, user.ErrNoToken):
		c.reply(ctx, chatID, msgNoToken, "")
	case errors.Is(err, shortener.ErrInvalidToken):
		c.reply(ctx, chatID, msgTokenRejected, "")
	default:
		c.reply(ctx, chatID, msgShortenFailed, "")
	}
}

func (c *Client) requireAdmin(ctx context.Context, chatID int64, command string) bool {
	if c.admins == nil {
		c.reply(ctx, chatID, msgNotAuthorized, "")
		return false
	}

	ok, err := c.admins.IsAdmin(ctx, chatID)
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "admin_check_error",
			"chat_id": chatID,
			"command": command,
		}).WithError(err).Error("failed to check admin")
	}
	if !ok {
		c.logger.WithFields(logging.Fields{
			"event":   "admin_denied",
			"chat_id": chatID,
			"command": command,
		}).Info("rejected privileged command")
		c.reply(ctx, chatID, msgNotAuthorized, "")
		return false
	}

	return true
}

func (c *Client) reply(ctx context.Context, chatID int64, text string, mode models.ParseMode) {
	_, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: mode,
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":   "telegram_send_error",
			"chat_id": chatID,
		}).WithError(err).Warn("failed to send reply")
	}
}

// parseCommand splits "/cmd@bot args" into its lowercase command and
// trimmed arguments. Text that is not a command yields an empty command.
func parseCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}

	head, args, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		args = head[i+1:] + " " + args
		head = head[:i]
	}
	head, _, _ = strings.Cut(head, "@")

	return strings.ToLower(head), strings.TrimSpace(args)
}

func displayName(u *models.User) string {
	if u == nil {
		return "User"
	}
	if u.Username != "" {
		return u.Username
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return "User"
}

func extractUpdateMeta(update *models.Update) updateMeta {
	switch {
	case update.Message != nil:
		return updateMeta{
			userID:     userID(update.Message.From),
			chatID:     chatID(&update.Message.Chat),
			text:       strings.TrimSpace(update.Message.Text),
			updateType: "message",
		}
	default:
		return updateMeta{updateType: "unknown"}
	}
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}

	return user.ID
}

func chatID(chat *models.Chat) int64 {
	if chat == nil {
		return 0
	}

	return chat.ID
}
