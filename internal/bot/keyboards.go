package bot

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/finik/vpn-subscription-service/internal/domain"
)

// Reply keyboard buttons.
const (
	ButtonBuy     = "💳 Купить"
	ButtonStatus  = "📊 Статус"
	ButtonInstall = "⚙️ Установить"
	ButtonSupport = "🛠️ Тех. поддержка"
)

// Callback data.
const (
	CallbackStartInstall        = "start_install"
	CallbackBuySubscription     = "buy_subscription"
	CallbackBuyPrefix           = "buy_"
	CallbackDevicePrefix        = "device_"
	CallbackBackToDevices       = "back_to_devices"
	CallbackBackToSubscriptions = "back_to_subscriptions"
	CallbackClearMessage        = "clear_message"
)

const importLinkFormat = "https://apps.artydev.ru/?url=v2raytun://import/%s#FinikVPN"

type device struct {
	key         string
	button      string
	heading     string
	downloadURL string
}

var devices = []device{
	{key: "iphone", button: "📱 iPhone", heading: "📱 *Вы выбрали iPhone:*", downloadURL: "https://apps.apple.com/kz/app/v2raytun/id6476628951"},
	{key: "android", button: "🤖 Android", heading: "🤖 *Вы выбрали Android:*", downloadURL: "https://play.google.com/store/apps/details?id=com.v2raytun.android"},
	{key: "mac", button: "💻 MacBook", heading: "💻 *Вы выбрали MacBook:*", downloadURL: "https://apps.apple.com/kz/app/v2raytun/id6476628951"},
	{key: "windows", button: "🖥️ Windows", heading: "🖥️ *Вы выбрали Windows:*", downloadURL: "https://ru.ldplayer.net/apps/v2raytun-on-pc.html"},
}

func deviceByKey(key string) (device, bool) {
	for _, d := range devices {
		if d.key == key {
			return d, true
		}
	}
	return device{}, false
}

func backButton(data string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", data)
}

func mainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonBuy), tgbotapi.NewKeyboardButton(ButtonStatus)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(ButtonInstall), tgbotapi.NewKeyboardButton(ButtonSupport)),
	)
	kb.ResizeKeyboard = true
	return kb
}

func startKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("🚀 Начать установку", CallbackStartInstall)),
	)
}

func planKeyboard() tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(domain.Plans)+1)
	for _, p := range domain.Plans {
		label := fmt.Sprintf("💰 %d ₽ - %s", p.PriceRubles, p.Label)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, CallbackBuyPrefix+strconv.Itoa(p.Days)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(backButton(CallbackClearMessage)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func checkoutKeyboard(paymentURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("💸 Оплатить", paymentURL)),
		tgbotapi.NewInlineKeyboardRow(backButton(CallbackBackToSubscriptions)),
	)
}

// deviceKeyboard lists the supported devices. back is the callback of the
// trailing back button; empty omits it.
func deviceKeyboard(back string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(devices)+1)
	for _, d := range devices {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(d.button, CallbackDevicePrefix+d.key)))
	}
	if back != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(backButton(back)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func connectKeyboard(d device, vpnKey string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("📥 Скачать", d.downloadURL)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("🔗 Подключиться", fmt.Sprintf(importLinkFormat, vpnKey))),
		tgbotapi.NewInlineKeyboardRow(backButton(CallbackBackToDevices)),
	)
}

func buyKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(ButtonBuy, CallbackBuySubscription)),
	)
}

func supportKeyboard(supportURL string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("📞 Связаться с поддержкой", supportURL)),
		tgbotapi.NewInlineKeyboardRow(backButton(CallbackClearMessage)),
	)
}

func statusKeyboard(referralLink string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL("📋 Поделиться ссылкой", referralLink)),
		tgbotapi.NewInlineKeyboardRow(backButton(CallbackClearMessage)),
	)
}
