package telegram

import (
	"fmt"

	"github.com/go-telegram/bot"

	"shortlink_bot/internal/domain"
	"shortlink_bot/internal/feature/broadcast"
)

const (
	dashboardURL = "https://smallshorturl.myvippanel.shop/member/tools/api"

	msgAPIUsage         = "Usage: /api YOUR_API_KEY"
	msgAPISaved         = "✅ API Saved Successfully! Now send me any link."
	msgAPIInvalid       = "❌ Invalid API. Please send your API key."
	msgAPIUnreachable   = "❌ Invalid API or Connection Error."
	msgSaveFailed       = "⚠️ Could not save your data right now. Please try again."
	msgLoginUsage       = "Usage: /adminlogin PASSWORD"
	msgWrongPassword    = "❌ Wrong Password!"
	msgNotAuthorized    = "❌ You are not authorized."
	msgNoToken          = "❌ Please set your Smallshorturl API Key first.\nUse: /api YOUR_API_KEY"
	msgTokenRejected    = "❌ Invalid API Format. Please check your key."
	msgShortenFailed    = "⚠️ Could not shorten the link right now. Please try again later."
	msgSendImage        = "📸 Send the image you want to broadcast!"
	msgSendVideo        = "🎬 Send the video you want to broadcast!"
	msgBroadcastFailed  = "⚠️ Broadcast failed. Please try again later."
	msgUnavailable      = "⚠️ This command is not available right now."
	msgStatsUnavailable = "⚠️ Could not load stats right now."
)

func welcomeText(name string) string {
	return fmt.Sprintf("👋 Hello *%s*\\!\n\n"+
		"Send your *Smallshorturl API Key* from *[Dashboard](%s)* \\(send /api with your api\\)\n\n"+
		"Once your API key is set, just send any link and I will shorten it instantly 🔗🚀",
		bot.EscapeMarkdown(name), dashboardURL)
}

func loginAcceptedText() string {
	return "✅ *Password Accepted\\!* You are now an Admin\\."
}

func shortenedText(original, short string) string {
	return fmt.Sprintf("✨✨ *Congratulations\\!* Your URL has been successfully shortened\\! 🚀🔗\n\n"+
		"🔗 *Original URL:* \n`%s`\n\n"+
		"🌐 *Shortened URL:* \n`%s`",
		bot.EscapeMarkdown(original), bot.EscapeMarkdown(short))
}

func broadcastReport(kind broadcast.Kind, result broadcast.Result) string {
	label := "Ads"
	switch kind {
	case broadcast.KindPhoto:
		label = "Image Ads"
	case broadcast.KindVideo:
		label = "Video Ads"
	}

	text := fmt.Sprintf("📢 %s sent to %d users successfully!", label, result.Sent)
	if result.Failed > 0 {
		text += fmt.Sprintf("\n⚠️ %d deliveries failed.", result.Failed)
	}
	return text
}

func statsText(stats domain.Stats) string {
	return fmt.Sprintf("📊 Users: %d\n🔑 With API key: %d\n🛡 Admins: %d", stats.Users, stats.WithToken, stats.Admins)
}
