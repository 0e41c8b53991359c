package router

import (
	"fmt"
	"strings"
	"time"

	"skin_tracker/internal/core"
	"skin_tracker/internal/tracker"
)

// timeLayout is the timestamp format embedded in chat messages.
const timeLayout = "2006-01-02 15:04:05"

func floatDisplay(item core.Item) string {
	if v, ok := item.FloatValue(); ok {
		return v.String()
	}
	return "N/A"
}

func intDisplay(v *int) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}

// formatNewItem renders the listing notification in HTML.
func formatNewItem(item core.Item, appeared time.Time, res core.MatchResult) string {
	var reasons []string

	if res.FloatMatch {
		reasons = append(reasons, fmt.Sprintf("✅ Float: %s", res.FloatValue.StringFixed(6)))
	}
	if len(res.Stickers) > 0 {
		lines := make([]string, 0, len(res.Stickers))
		for _, s := range res.Stickers {
			lines = append(lines, fmt.Sprintf("  • %s (слот %d, износ: %s%%)", s.Name, s.Slot, s.Wear.String()))
		}
		reasons = append(reasons, "🏷 Стикеры:\n"+strings.Join(lines, "\n"))
	}
	if len(res.Charms) > 0 {
		lines := make([]string, 0, len(res.Charms))
		for _, c := range res.Charms {
			lines = append(lines, fmt.Sprintf("  • %s (слот %d, износ: %s%%)", c.Name, c.Slot, c.Wear.String()))
		}
		reasons = append(reasons, "💎 Чармы:\n"+strings.Join(lines, "\n"))
	}
	if len(res.Highlights) > 0 {
		lines := make([]string, 0, len(res.Highlights))
		for _, h := range res.Highlights {
			lines = append(lines, fmt.Sprintf("  • %s (слот %d)", h.Name, h.Slot))
		}
		reasons = append(reasons, "💎 Хайлайты:\n"+strings.Join(lines, "\n"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>🆕 НОВЫЙ СКИН </b>\n")
	fmt.Fprintf(&b, "⏱ Появился: %s\n", appeared.Format(timeLayout))
	fmt.Fprintf(&b, "Название: %s\n", item.Name)
	fmt.Fprintf(&b, "Цена: $%s\n", item.Price.String())
	fmt.Fprintf(&b, "Float: %s\n", floatDisplay(item))
	fmt.Fprintf(&b, "ID: %d\n\n", item.ID)
	fmt.Fprintf(&b, "Причины уведомления:\n%s", strings.Join(reasons, "\n"))

	if item.HasFloat() {
		fmt.Fprintf(&b, "\n\nПаттерн: %s", intDisplay(item.PaintIndex))
		fmt.Fprintf(&b, "\nSeed: %s", intDisplay(item.PaintSeed))
	}

	return b.String()
}

// formatSoldItem renders the sale notification with the dwell time.
func formatSoldItem(item core.Item, appeared, sold time.Time, res core.MatchResult) string {
	var details []string

	if res.FloatMatch {
		details = append(details, fmt.Sprintf("Float: %s", res.FloatValue.StringFixed(6)))
	}
	if len(res.Stickers) > 0 {
		details = append(details, "Стикеры: "+joinNames(res.Stickers))
	}
	if len(res.Charms) > 0 {
		details = append(details, "Чармы: "+joinNames(res.Charms))
	}
	if len(res.Highlights) > 0 {
		details = append(details, "Хайлайты: "+joinNames(res.Highlights))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "💰 <b>Скин продан</b>\n")
	fmt.Fprintf(&b, "⏱ Появился: %s\n", appeared.Format(timeLayout))
	fmt.Fprintf(&b, "🛒 Продан: %s\n", sold.Format(timeLayout))
	fmt.Fprintf(&b, "⏳ Время на продажу: %s\n", tracker.FormatDwell(appeared, sold))
	fmt.Fprintf(&b, "Название: %s\n", item.Name)
	fmt.Fprintf(&b, "Цена: $%s\n", item.Price.String())
	fmt.Fprintf(&b, "%s\n", strings.Join(details, "\n"))
	fmt.Fprintf(&b, "ID: %d", item.ID)

	return b.String()
}

// formatAutoBuySuccess renders the confirmation after an automatic
// purchase went through.
func formatAutoBuySuccess(item core.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ <b>Автопокупка успешна!</b>\n")
	fmt.Fprintf(&b, "Название: %s\n", item.Name)
	fmt.Fprintf(&b, "Float: %s\n", floatDisplay(item))
	fmt.Fprintf(&b, "Цена: USD: %s\n", item.Price.String())
	fmt.Fprintf(&b, "ID: %d", item.ID)
	return b.String()
}

func joinNames(matches []core.StickerMatch) string {
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m.Name)
	}
	return strings.Join(names, ", ")
}
