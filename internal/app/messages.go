package app

import (
	"fmt"
	"time"
)

// DisplayTimeLayout is used for every subscription date shown to users.
const DisplayTimeLayout = "2006-01-02 15:04:05"

// Message kinds stored in the message store.
const (
	MessageKindPlanMenu = "plan_menu"
	MessageKindCheckout = "checkout"
)

const (
	textPaymentCanceled = "Ваш платеж был отменен."
	textReferralBonus   = "🎉 Пользователь, которого вы пригласили, активировал подписку! Вам добавлено %d дня."
	textPaymentSuccess  = "✅ Оплата прошла успешно! Доступ продлён до %s (МСК).\nТеперь выберите устройство в меню 'Установить'."
	textExpiryWarning   = "⚠️ Ваша подписка истекает через %d дня! Продлите доступ в меню 'Купить'."
)

// FormatDisplayTime renders t in loc with DisplayTimeLayout.
func FormatDisplayTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DisplayTimeLayout)
}

func paymentSuccessText(end time.Time, loc *time.Location) string {
	return fmt.Sprintf(textPaymentSuccess, FormatDisplayTime(end, loc))
}

func referralBonusText(days int) string {
	return fmt.Sprintf(textReferralBonus, days)
}

func expiryWarningText(days int) string {
	return fmt.Sprintf(textExpiryWarning, days)
}
