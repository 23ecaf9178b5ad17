/**
 * @description
 * Outbound side of the chat transport: sends and deletes messages through the
 * Telegram Bot API under a process-wide rate limit.
 *
 * @dependencies
 * - github.com/go-telegram-bot-api/telegram-bot-api/v5: Bot API client.
 * - golang.org/x/time/rate: token bucket limiter.
 */
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// DefaultRatePerSecond stays under Telegram's global limit for bulk messages.
const DefaultRatePerSecond = 20

// BotAPI is the subset of *tgbotapi.BotAPI used by the notifier.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Notifier sends chat messages.
type Notifier struct {
	bot     BotAPI
	limiter *rate.Limiter
}

// NewNotifier wraps bot with a limiter allowing perSecond sends with burst 1.
func NewNotifier(bot BotAPI, perSecond float64) *Notifier {
	if perSecond <= 0 {
		perSecond = DefaultRatePerSecond
	}
	return &Notifier{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Notify sends a plain text message.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	_, err := n.Send(ctx, tgbotapi.NewMessage(chatID, text))
	return err
}

// NotifyWithMarkup sends text with a reply markup and returns the message id.
func (n *Notifier) NotifyWithMarkup(ctx context.Context, chatID int64, text string, markup interface{}) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	sent, err := n.Send(ctx, msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Send delivers any sendable config once the limiter allows it.
func (n *Notifier) Send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, fmt.Errorf("telegram rate limiter: %w", err)
	}
	msg, err := n.bot.Send(c)
	if err != nil {
		return tgbotapi.Message{}, fmt.Errorf("telegram send: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes a previously sent message.
func (n *Notifier) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return n.request(ctx, tgbotapi.NewDeleteMessage(chatID, messageID))
}

// AnswerCallback acknowledges an inline button press.
func (n *Notifier) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return n.request(ctx, tgbotapi.NewCallback(callbackID, text))
}

func (n *Notifier) request(ctx context.Context, c tgbotapi.Chattable) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limiter: %w", err)
	}
	if _, err := n.bot.Request(c); err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	return nil
}
