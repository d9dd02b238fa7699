package telegram

import (
	"html"
	"time"

	"kassa/internal/core"
)

// timeLayout matches the original bot's dd.mm.yyyy hh:mm stamps.
const timeLayout = "02.01.2006 15:04"

// categoryLabel picks the heading for the last-operation line. The topup
// topic reads differently when money actually left the general balance.
func categoryLabel(category core.Category, direction core.Direction) string {
	switch category {
	case core.CategoryFood:
		return "🍽 <b>Еда</b>"
	case core.CategoryFoodTopup:
		if direction == core.Debit {
			return "🍽➖ <b>Списание еды</b>"
		}
		return "🍽➕ <b>Пополнение еды</b>"
	case core.CategoryTopup:
		if direction == core.Debit {
			return "➖ <b>Списание</b>"
		}
		return "➕ <b>Пополнение</b>"
	case core.CategoryApartment:
		return "🏠 <b>Квартира</b>"
	default:
		return "💰 <b>Расход</b>"
	}
}

// OperationLine renders the last-operation block shown under the balance:
// heading, verified arithmetic, note and timestamp.
func OperationLine(category core.Category, direction core.Direction, delta, note string, at time.Time) string {
	line := categoryLabel(category, direction) + ": " + delta
	if note != "" {
		line += "\n📝 " + html.EscapeString(note)
	}
	return line + "\n🕒 " + at.Format(timeLayout)
}

// BalanceText renders the pinned-style balance message. lastLine is the
// operation (or confirmation) that triggered the refresh; empty to omit.
func BalanceText(l core.ChatLedger, lastLine string, at time.Time) string {
	text := "📌 <b>Баланс</b>\n" +
		"💰 <b>Общий:</b> " + core.FormatCents(l.GeneralCents) + "\n" +
		"🍽 <b>Еда:</b> " + core.FormatCents(l.FoodCents) + "\n" +
		"🕒 " + at.Format(timeLayout)
	if lastLine != "" {
		text += "\n\n" + lastLine
	}
	return text
}
