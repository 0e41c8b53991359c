package core

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// GameCSGO is the game_id the marketplace assigns to CS:GO items.
const GameCSGO = 1

// Sticker is a cosmetic attachment on a marketplace item.
type Sticker struct {
	Name string          `json:"name"`
	Wear decimal.Decimal `json:"wear"`
	Slot int             `json:"slot"`
}

// Item is a single tradable unit as delivered by the stream.
// ItemFloat is kept raw: the marketplace sends it as a string, a number
// or null depending on the item category.
type Item struct {
	ID         int64           `json:"id"`
	GameID     int             `json:"game_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	ItemFloat  json.RawMessage `json:"item_float"`
	Stickers   []Sticker       `json:"stickers"`
	PaintIndex *int            `json:"item_paint_index"`
	PaintSeed  *int            `json:"item_paint_seed"`
}

// Key returns the string identity used by the tracker tables.
func (i Item) Key() string {
	return strconv.FormatInt(i.ID, 10)
}

// FloatValue parses the raw item_float field. ok is false when the
// field is absent, null or not a decimal in any accepted encoding.
func (i Item) FloatValue() (decimal.Decimal, bool) {
	if len(i.ItemFloat) == 0 {
		return decimal.Decimal{}, false
	}
	raw := string(i.ItemFloat)
	if raw == "null" {
		return decimal.Decimal{}, false
	}
	var s string
	if err := json.Unmarshal(i.ItemFloat, &s); err != nil {
		s = raw
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// HasFloat reports whether the item carries any float field at all,
// parseable or not. Used for message rendering.
func (i Item) HasFloat() bool {
	return len(i.ItemFloat) > 0 && string(i.ItemFloat) != "null"
}

// Event type discriminators used by the obtained-skins channel.
const (
	EventAdded   = "obtained_skin_added"
	EventDeleted = "obtained_skin_deleted"
)

// Event is one publication from the stream.
type Event struct {
	Type string `json:"event"`
	Item
}

// TrackedItem is a currently-listed item: the snapshot taken when its
// added event was accepted, plus the appearance timestamp.
type TrackedItem struct {
	AppearedAt time.Time
	Snapshot   Item
}

// StickerMatch is one decoration that satisfied a keyword list.
type StickerMatch struct {
	Name string
	Wear decimal.Decimal
	Slot int
}

// MatchResult is the verdict of the criteria matcher for one item.
type MatchResult struct {
	Matched    bool
	FloatMatch bool
	FloatValue decimal.Decimal
	Stickers   []StickerMatch
	Charms     []StickerMatch
	Highlights []StickerMatch
}

// ConnectionState is the stream connection lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateSubscribing
	StateLive
	StateReconnecting
	StateFailedPermanently
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateFailedPermanently:
		return "failed_permanently"
	default:
		return "unknown"
	}
}

// BuyAction is the interactive purchase action attached to a new-item
// notification: the item to buy and the price observed at notification
// time.
type BuyAction struct {
	ItemID int64
	Price  decimal.Decimal
}

// PurchasedSkin is one line of a purchase result.
type PurchasedSkin struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Status string          `json:"status"`
}

// PurchaseResult is the marketplace response to a buy call.
type PurchaseResult struct {
	PurchaseID int64           `json:"purchase_id"`
	Skins      []PurchasedSkin `json:"skins"`
}
