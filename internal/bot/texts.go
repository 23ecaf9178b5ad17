package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/finik/vpn-subscription-service/internal/app"
	"github.com/finik/vpn-subscription-service/internal/domain"
)

const (
	textChooseDevice       = "Выберите устройство:"
	textChoosePlan         = "Выберите подписку:"
	textPaymentError       = "❌ Ошибка создания платежа. Попробуйте позже."
	textNoSubscription     = "❌ У вас нет активной подписки. Пополните баланс через 'Купить'."
	textKeyError           = "❌ Ошибка создания ключа. Обратитесь в техподдержку."
	textSupport            = "Перейдите для связи с техподдержкой:"
	textNotRegistered      = "Вы еще не зарегистрированы. Используйте /start."
	textNoActiveEnd        = "Нет активной подписки"
	textInstruction        = "🌟 *Как подключиться?:*\n1️⃣ Нажми кнопку скачать.\n2️⃣ Нажми кнопку подключиться!"
	textReferralRegistered = "🎉 Пользователь @%s зарегистрировался по вашей ссылке! Вы получите %d дня подписки, когда он активирует подписку."
)

type welcomeKind int

const (
	welcomeNew welcomeKind = iota
	welcomeReturning
	welcomeViaFriend
	welcomeAlreadyViaLink
	welcomeSelfInvite
	welcomeBadLink
)

func welcomeText(kind welcomeKind, name string) string {
	var body string
	switch kind {
	case welcomeNew:
		body = "Добро пожаловать в ФИНИК 🛰️\nПриобретите подписку, чтобы начать!"
	case welcomeReturning:
		body = "Вы уже зарегистрированы.\nКупите подписку или проверьте статус!"
	case welcomeViaFriend:
		body = "Вы успешно зарегистрированы по ссылке друга.\nКупите подписку, чтобы начать!"
	case welcomeAlreadyViaLink:
		body = "Вы уже зарегистрированы по этой ссылке.\nКупите подписку, чтобы продолжить!"
	case welcomeSelfInvite:
		body = "Нельзя пригласить самого себя."
	case welcomeBadLink:
		body = "Ошибка в реферальной ссылке."
	}
	return fmt.Sprintf("Привет, %s!\n%s\n\nВыберите действие:\n\n👇👇👇", name, body)
}

func statusText(status domain.Status, loc *time.Location, bonusDays int) string {
	access := "❌ Нет"
	if status.Active {
		access = "☑️ Есть"
	}
	end := textNoActiveEnd
	if status.SubscriptionEnd != nil {
		end = app.FormatDisplayTime(*status.SubscriptionEnd, loc)
	}

	var b strings.Builder
	b.WriteString("📊 Статус:\n")
	fmt.Fprintf(&b, "Доступ: %s\n", access)
	fmt.Fprintf(&b, "├ Осталось дней: %d\n", status.DaysLeft)
	fmt.Fprintf(&b, "└ Активна до (МСК): %s\n\n", end)
	b.WriteString("Реферальная ссылка:\n")
	fmt.Fprintf(&b, "└ `%s`\n", status.ReferralLink)
	fmt.Fprintf(&b, "⬆️ Приглашайте друзей и получайте %d дня за каждую их подписку!\n\n", bonusDays)
	b.WriteString("Статистика рефералов:\n")
	fmt.Fprintf(&b, "└ Приглашено друзей: %d", status.InvitedCount)
	return b.String()
}

func checkoutText(plan domain.Plan) string {
	return fmt.Sprintf("Оплата %d дней: %d рублей", plan.Days, plan.PriceRubles)
}

func deviceText(d device) string {
	return d.heading + "\n\n" + textInstruction + "\n\nВыберите действие:"
}
