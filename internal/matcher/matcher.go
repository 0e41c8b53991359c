// Package matcher implements the notification criteria checks.
package matcher

import (
	"strings"

	"github.com/shopspring/decimal"

	"skin_tracker/internal/config"
	"skin_tracker/internal/core"
)

// Range is one inclusive wear interval.
type Range struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Matcher evaluates items against the configured criteria. It holds no
// mutable state and is safe for concurrent use.
type Matcher struct {
	ranges            []Range
	stickerKeywords   []string
	charmKeywords     []string
	highlightKeywords []string
}

// New compiles the configured filters. Keyword lists are lowered once;
// list order is preserved because the first matching entry wins.
func New(cfg config.FiltersConfig) *Matcher {
	ranges := make([]Range, 0, len(cfg.FloatRanges))
	for _, r := range cfg.FloatRanges {
		ranges = append(ranges, Range{
			Min: decimal.NewFromFloat(r.Min),
			Max: decimal.NewFromFloat(r.Max),
		})
	}

	return &Matcher{
		ranges:            ranges,
		stickerKeywords:   lowerAll(cfg.StickerKeywords),
		charmKeywords:     lowerAll(cfg.CharmKeywords),
		highlightKeywords: lowerAll(cfg.HighlightKeywords),
	}
}

// IsContainer reports whether the item is a container and therefore
// never eligible for matching.
func IsContainer(name string) bool {
	return strings.Contains(name, "Case")
}

// Evaluate checks the item's float value and stickers against the
// configured criteria. Pure: no side effects, deterministic.
func (m *Matcher) Evaluate(item core.Item) core.MatchResult {
	var result core.MatchResult

	if fv, ok := item.FloatValue(); ok {
		for _, r := range m.ranges {
			if fv.GreaterThanOrEqual(r.Min) && fv.LessThanOrEqual(r.Max) {
				result.FloatMatch = true
				result.FloatValue = fv
				break
			}
		}
	}

	for _, sticker := range item.Stickers {
		name := strings.ToLower(sticker.Name)

		if matchesAny(name, m.stickerKeywords) {
			result.Stickers = append(result.Stickers, matchOf(sticker))
		}
		if matchesAny(name, m.charmKeywords) {
			result.Charms = append(result.Charms, matchOf(sticker))
		}
		if matchesAny(name, m.highlightKeywords) {
			result.Highlights = append(result.Highlights, matchOf(sticker))
		}
	}

	result.Matched = result.FloatMatch ||
		len(result.Stickers) > 0 ||
		len(result.Charms) > 0 ||
		len(result.Highlights) > 0

	return result
}

func matchesAny(loweredName string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(loweredName, kw) {
			return true
		}
	}
	return false
}

func matchOf(s core.Sticker) core.StickerMatch {
	return core.StickerMatch{Name: s.Name, Wear: s.Wear, Slot: s.Slot}
}

func lowerAll(keywords []string) []string {
	out := make([]string, len(keywords))
	for i, kw := range keywords {
		out[i] = strings.ToLower(kw)
	}
	return out
}
