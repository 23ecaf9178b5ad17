/**
 * @description
 * Chat command layer. Translates Telegram updates (commands, reply keyboard
 * buttons and inline button presses) into calls on the ledger, the referral graph,
 * checkout and the installer, and renders the replies.
 *
 * @dependencies
 * - github.com/go-telegram-bot-api/telegram-bot-api/v5: update and message types.
 */
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/finik/vpn-subscription-service/internal/app"
	"github.com/finik/vpn-subscription-service/internal/domain"
)

// Sender is the outbound chat transport.
type Sender interface {
	Send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error)
	Notify(ctx context.Context, chatID int64, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// CheckoutStarter opens payment sessions.
type CheckoutStarter interface {
	Start(ctx context.Context, userID int64, days int) (*app.CheckoutSession, error)
}

// AccessProvider hands out VPN keys.
type AccessProvider interface {
	EnsureAccess(ctx context.Context, userID int64) (string, error)
}

// Handler routes Telegram updates.
type Handler struct {
	ledger     *app.Ledger
	referrals  *app.ReferralGraph
	checkout   CheckoutStarter
	installer  AccessProvider
	sender     Sender
	messages   app.MessageStore
	location   *time.Location
	supportURL string
	logger     *slog.Logger
}

// NewHandler creates the chat handler.
func NewHandler(
	ledger *app.Ledger,
	referrals *app.ReferralGraph,
	checkout CheckoutStarter,
	installer AccessProvider,
	sender Sender,
	messages app.MessageStore,
	location *time.Location,
	supportURL string,
	logger *slog.Logger,
) *Handler {
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		ledger:     ledger,
		referrals:  referrals,
		checkout:   checkout,
		installer:  installer,
		sender:     sender,
		messages:   messages,
		location:   location,
		supportURL: supportURL,
		logger:     logger,
	}
}

// HandleUpdate processes one update. Unknown updates are ignored.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return h.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		return h.handleMessage(ctx, update.Message)
	}
	return nil
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.Chat == nil {
		return nil
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		if msg.Command() != "start" {
			return nil
		}
		h.deleteQuietly(ctx, chatID, msg.MessageID)
		return h.start(ctx, msg.From, chatID, msg.CommandArguments())
	}

	switch strings.TrimSpace(msg.Text) {
	case ButtonBuy:
		h.logger.Info("buy menu requested", "user_id", userID)
		h.deleteQuietly(ctx, chatID, msg.MessageID)
		return h.sendPlanMenu(ctx, userID, chatID)
	case ButtonStatus:
		h.logger.Info("status requested", "user_id", userID)
		h.deleteQuietly(ctx, chatID, msg.MessageID)
		return h.sendStatus(ctx, userID, chatID)
	case ButtonInstall:
		h.logger.Info("install requested", "user_id", userID)
		h.deleteQuietly(ctx, chatID, msg.MessageID)
		return h.send(ctx, chatID, textChooseDevice, deviceKeyboard(CallbackClearMessage), "")
	case ButtonSupport:
		h.logger.Info("support requested", "user_id", userID)
		h.deleteQuietly(ctx, chatID, msg.MessageID)
		return h.send(ctx, chatID, textSupport, supportKeyboard(h.supportURL), "")
	}
	return nil
}

func (h *Handler) start(ctx context.Context, from *tgbotapi.User, chatID int64, payload string) error {
	userID := from.ID
	name := from.UserName
	if name == "" {
		name = from.FirstName
	}
	logger := h.logger.With("user_id", userID)

	var kind welcomeKind
	referrerID, parseErr := domain.ParseReferralCode(strings.TrimSpace(payload))
	switch {
	case parseErr != nil:
		logger.Warn("invalid referral code", "payload", payload, "error", parseErr)
		if _, err := h.ledger.RegisterIfAbsent(ctx, userID); err != nil {
			return err
		}
		kind = welcomeBadLink

	case referrerID == nil:
		result, err := h.referrals.RegisterReferral(ctx, nil, userID)
		if err != nil {
			return err
		}
		kind = welcomeReturning
		if result.CreatedUser {
			kind = welcomeNew
		}

	case *referrerID == userID:
		if _, err := h.ledger.RegisterIfAbsent(ctx, userID); err != nil {
			return err
		}
		kind = welcomeSelfInvite

	default:
		logger = logger.With("referrer_id", *referrerID)
		result, err := h.referrals.RegisterReferral(ctx, referrerID, userID)
		if err != nil {
			return err
		}
		kind = welcomeAlreadyViaLink
		if result.EdgeCreated {
			kind = welcomeViaFriend
			notice := fmt.Sprintf(textReferralRegistered, name, h.referrals.BonusDays())
			if err := h.sender.Notify(ctx, *referrerID, notice); err != nil {
				logger.Warn("failed to notify referrer", "error", err)
			}
		}
	}

	logger.Info("sending welcome message", "kind", int(kind))
	return h.send(ctx, chatID, welcomeText(kind, name), startKeyboard(), "")
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	defer func() {
		if err := h.sender.AnswerCallback(ctx, cb.ID, ""); err != nil {
			h.logger.Debug("failed to answer callback", "error", err)
		}
	}()
	if cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	userID := cb.From.ID
	chatID := cb.Message.Chat.ID
	h.deleteQuietly(ctx, chatID, cb.Message.MessageID)

	data := cb.Data
	switch {
	case data == CallbackClearMessage:
		return nil
	case data == CallbackBuySubscription, data == CallbackBackToSubscriptions:
		return h.sendPlanMenu(ctx, userID, chatID)
	case data == CallbackStartInstall:
		if err := h.send(ctx, chatID, textChooseDevice, mainKeyboard(), ""); err != nil {
			return err
		}
		return h.send(ctx, chatID, textChooseDevice, deviceKeyboard(""), "")
	case data == CallbackBackToDevices:
		return h.send(ctx, chatID, textChooseDevice, deviceKeyboard(""), "")
	case strings.HasPrefix(data, CallbackDevicePrefix):
		return h.sendDevice(ctx, userID, chatID, strings.TrimPrefix(data, CallbackDevicePrefix))
	case strings.HasPrefix(data, CallbackBuyPrefix):
		days, err := strconv.Atoi(strings.TrimPrefix(data, CallbackBuyPrefix))
		if err != nil {
			return nil
		}
		return h.sendCheckout(ctx, userID, chatID, days)
	}
	return nil
}

func (h *Handler) sendPlanMenu(ctx context.Context, userID, chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, textChoosePlan)
	msg.ReplyMarkup = planKeyboard()
	sent, err := h.sender.Send(ctx, msg)
	if err != nil {
		return err
	}
	h.remember(ctx, userID, sent.MessageID, app.MessageKindPlanMenu)
	return nil
}

func (h *Handler) sendCheckout(ctx context.Context, userID, chatID int64, days int) error {
	h.logger.Info("plan selected", "user_id", userID, "days", days)
	session, err := h.checkout.Start(ctx, userID, days)
	if err != nil {
		h.logger.Error("checkout failed", "user_id", userID, "days", days, "error", err)
		return h.send(ctx, chatID, textPaymentError, nil, "")
	}
	msg := tgbotapi.NewMessage(chatID, checkoutText(session.Plan))
	msg.ReplyMarkup = checkoutKeyboard(session.ConfirmationURL)
	sent, err := h.sender.Send(ctx, msg)
	if err != nil {
		return err
	}
	h.remember(ctx, userID, sent.MessageID, app.MessageKindCheckout)
	return nil
}

func (h *Handler) sendStatus(ctx context.Context, userID, chatID int64) error {
	status, err := h.ledger.GetStatus(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return h.send(ctx, chatID, textNotRegistered, nil, "")
	}
	if err != nil {
		return err
	}
	text := statusText(status, h.location, h.referrals.BonusDays())
	return h.send(ctx, chatID, text, statusKeyboard(status.ReferralLink), tgbotapi.ModeMarkdown)
}

func (h *Handler) sendDevice(ctx context.Context, userID, chatID int64, key string) error {
	d, ok := deviceByKey(key)
	if !ok {
		return nil
	}
	h.logger.Info("device selected", "user_id", userID, "device", d.key)

	vpnKey, err := h.installer.EnsureAccess(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrSubscriptionInactive):
		return h.send(ctx, chatID, textNoSubscription, buyKeyboard(), "")
	case err != nil:
		h.logger.Error("failed to provide vpn access", "user_id", userID, "error", err)
		return h.send(ctx, chatID, textKeyError, nil, "")
	}
	return h.send(ctx, chatID, deviceText(d), connectKeyboard(d, vpnKey), tgbotapi.ModeMarkdown)
}

func (h *Handler) send(ctx context.Context, chatID int64, text string, markup interface{}, parseMode string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	msg.ParseMode = parseMode
	_, err := h.sender.Send(ctx, msg)
	return err
}

func (h *Handler) remember(ctx context.Context, userID int64, messageID int, kind string) {
	if h.messages == nil {
		return
	}
	if err := h.messages.Remember(ctx, userID, messageID, kind); err != nil {
		h.logger.Warn("failed to remember message", "user_id", userID, "message_id", messageID, "error", err)
	}
}

func (h *Handler) deleteQuietly(ctx context.Context, chatID int64, messageID int) {
	if err := h.sender.DeleteMessage(ctx, chatID, messageID); err != nil {
		h.logger.Debug("failed to delete message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}
