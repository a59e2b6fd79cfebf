// Package telegram provides a client for sending alert notifications via the
// Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vtqube/tbqwatch/internal/models"
)

// AlertHistory answers the /alerts bot command.
type AlertHistory interface {
	RecentAlerts(limit int) ([]models.AlertRecord, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	history        AlertHistory
}

// SetAlertHistory enables the /alerts command.
func (c *Client) SetAlertHistory(h AlertHistory) {
	c.history = h
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	case "alerts":
		if c.history == nil {
			return
		}
		alerts, err := c.history.RecentAlerts(10)
		if err != nil {
			return
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, formatAlertHistory(alerts))
		c.bot.Send(reply) //nolint:errcheck
	}
}

// formatAlertHistory renders /alerts output as plain text.
func formatAlertHistory(alerts []models.AlertRecord) string {
	if len(alerts) == 0 {
		return "No alerts recorded."
	}
	var b strings.Builder
	b.WriteString("Recent alerts:\n")
	for _, a := range alerts {
		b.WriteString(fmt.Sprintf("%s  %s  %s\n", a.Timestamp.Format("02-01 15:04:05"), a.Symbol, a.Kind))
	}
	return b.String()
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Monitoring error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Monitoring recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendAlert sends one fired alert notification.
func (c *Client) SendAlert(result models.SymbolResult, kind models.AlertKind) error {
	return c.sendMarkdownV2(formatAlert(result, kind))
}

// formatAlert renders a fired alert as a Telegram MarkdownV2 message.
func formatAlert(result models.SymbolResult, kind models.AlertKind) string {
	var b strings.Builder

	b.WriteString("🚨 *STOCK ALERT* 🚨\n\n")
	b.WriteString(fmt.Sprintf("*%s* \\- %s\n\n", escapeMarkdownV2(result.Symbol), escapeMarkdownV2(string(kind))))

	buyChange := escapeMarkdownV2(fmt.Sprintf("%+.2f%%", result.BuyChangePct*100))
	sellChange := escapeMarkdownV2(fmt.Sprintf("%+.2f%%", result.SellChangePct*100))
	b.WriteString(fmt.Sprintf("TBQ: %s \\(%s\\)\n", formatQty(result.Snapshot.BuyQty), buyChange))
	b.WriteString(fmt.Sprintf("TSQ: %s \\(%s\\)\n", formatQty(result.Snapshot.SellQty), sellChange))
	b.WriteString(fmt.Sprintf("Ratio: %s\n\n", escapeMarkdownV2(fmt.Sprintf("%.2f", result.Ratio))))

	snap := result.Snapshot
	priceLine := fmt.Sprintf("₹%.2f(LTP) -- ₹%.2f (O) -- ₹%.2f (H) -- ₹%.2f (L) -- ₹%.2f (C)",
		snap.LastPrice, snap.Open, snap.High, snap.Low, snap.Close)
	b.WriteString(escapeMarkdownV2(priceLine) + "\n\n")

	// Day extremes of the side that fired.
	switch kind {
	case models.AlertBuySpike:
		b.WriteString(fmt.Sprintf("TBQ Day High: %s \\| Day Low: %s\n",
			formatQty(result.Extremes.HighBuyQty), formatQty(result.Extremes.LowBuyQty)))
	case models.AlertSellSpike:
		b.WriteString(fmt.Sprintf("TSQ Day High: %s \\| Day Low: %s\n",
			formatQty(result.Extremes.HighSellQty), formatQty(result.Extremes.LowSellQty)))
	}

	b.WriteString(fmt.Sprintf("\nTime: %s \\| Date: %s",
		escapeMarkdownV2(result.ObservedAt.Format("15:04:05")),
		escapeMarkdownV2(result.ObservedAt.Format("02-01-2006"))))

	return b.String()
}

// formatQty renders a quantity with thousands separators.
func formatQty(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var b strings.Builder
	for i, ch := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
