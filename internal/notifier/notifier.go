package notifier

import (
	"fmt"
	"strconv"
	"strings"

	"pb-watcher/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers push messages over Telegram. The channel handle is the
// recipient's chat ID as an opaque string; one delivery attempt per call,
// no internal retry queue.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	logger *zap.Logger
}

// New authenticates against the Telegram API with the given token.
func New(token string, logger *zap.Logger) (*Notifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connecting to telegram: %w", err)
	}
	logger.Info("notifier authorized", zap.String("bot", bot.Self.UserName))
	return &Notifier{bot: bot, logger: logger}, nil
}

// Notify sends one plain-text message to the given channel handle.
func (n *Notifier) Notify(channelHandle, text string) error {
	chatID, err := strconv.ParseInt(channelHandle, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid channel handle %q: %w", shortHandle(channelHandle), err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	n.logger.Info("notification delivered", zap.String("channel", shortHandle(channelHandle)))
	return nil
}

// AnnounceStartup pushes a one-line startup message to the operator channel
// when one is configured. Failures are logged only; monitoring starts
// regardless.
func (n *Notifier) AnnounceStartup(channelHandle string) {
	if channelHandle == "" {
		return
	}
	if err := n.Notify(channelHandle, "🚀 Stock watcher started."); err != nil {
		n.logger.Warn("startup announcement failed", zap.Error(err))
	}
}

// FormatTransition renders the human-readable message for an availability
// flip: item title, new status, source URL, plus the enrichment comment when
// one was produced.
func FormatTransition(item models.WatchedItem, snap models.ProductSnapshot, comment string) string {
	var sb strings.Builder
	if snap.Available {
		sb.WriteString("🔥 Back in stock!\n")
	} else {
		sb.WriteString("📦 Stock update\n")
	}
	title := snap.Title
	if title == "" {
		title = item.DisplayTitle
	}
	fmt.Fprintf(&sb, "%s\n", title)
	fmt.Fprintf(&sb, "Status: %s\n", snap.StatusText)
	if snap.Available && snap.MaxQuantity > 0 {
		fmt.Fprintf(&sb, "Up to %d per order\n", snap.MaxQuantity)
	}
	if comment != "" {
		fmt.Fprintf(&sb, "%s\n", comment)
	}
	sb.WriteString(snap.SourceURL)
	return sb.String()
}

// shortHandle truncates a channel handle for logging so recipient IDs never
// land in logs verbatim.
func shortHandle(handle string) string {
	if len(handle) <= 8 {
		return handle
	}
	return handle[:8] + "..."
}
