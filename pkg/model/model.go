// Package model defines the persisted entities of the inventory crawler.
package model

import (
	"strconv"
	"strings"
	"time"
)

// SpecialVariant marks StatTrak and Souvenir items
type SpecialVariant int

const (
	VariantNone SpecialVariant = iota
	VariantStatTrak
	VariantSouvenir
)

func (v SpecialVariant) String() string {
	switch v {
	case VariantStatTrak:
		return "stattrak"
	case VariantSouvenir:
		return "souvenir"
	default:
		return "none"
	}
}

// StickerFinish is the print finish of a sticker
type StickerFinish int

const (
	FinishPaper StickerFinish = iota
	FinishHolo
	FinishFoil
	FinishGold
	FinishGlitter
	FinishLenticular
)

var finishNames = [...]string{"paper", "holo", "foil", "gold", "glitter", "lenticular"}

func (f StickerFinish) String() string {
	if f < 0 || int(f) >= len(finishNames) {
		return "paper"
	}
	return finishNames[f]
}

// LeafKind identifies the single-valued canonical tables
type LeafKind int

const (
	LeafName LeafKind = iota
	LeafSet
	LeafCategory
)

func (k LeafKind) String() string {
	switch k {
	case LeafSet:
		return "set"
	case LeafCategory:
		return "category"
	default:
		return "name"
	}
}

// Account is a discovered upstream account, keyed by its 17-digit SteamID64
type Account struct {
	ID64      string
	CreatedAt time.Time
}

// MappedAccount records that an account's inventory was attempted.
// A nil Inventory means the inventory was private or the account owns no game.
type MappedAccount struct {
	ID64      string
	Inventory *Inventory
	MappedAt  time.Time
}

// Inventory owns the ordered item stacks of one mapped account
type Inventory struct {
	ID     int64
	Stacks []*ItemStack
}

// Name is a canonical display name
type Name struct {
	ID    int64
	Value string
}

// Set is a canonical item collection
type Set struct {
	ID    int64
	Value string
}

// Category is a canonical item category (Rifle, Container, ...)
type Category struct {
	ID    int64
	Value string
}

// Sticker is a canonical sticker keyed by name and finish
type Sticker struct {
	ID     int64
	Name   string
	Finish StickerFinish
}

// ItemType is the shared, immutable description of an item kind.
// Set, Exterior and MarketHashName are optional.
type ItemType struct {
	ID             int64
	Name           *Name
	Set            *Set
	Category       *Category
	Exterior       string
	Rarity         string
	Variant        SpecialVariant
	MarketHashName *Name
}

// ItemTypeKey is the natural key of an ItemType. Absent values are empty strings.
type ItemTypeKey struct {
	Name           string
	Set            string
	Category       string
	Exterior       string
	Rarity         string
	Variant        SpecialVariant
	MarketHashName string
}

// Key returns the natural key of the item type
func (t *ItemType) Key() ItemTypeKey {
	k := ItemTypeKey{
		Exterior: t.Exterior,
		Rarity:   t.Rarity,
		Variant:  t.Variant,
	}
	if t.Name != nil {
		k.Name = t.Name.Value
	}
	if t.Set != nil {
		k.Set = t.Set.Value
	}
	if t.Category != nil {
		k.Category = t.Category.Value
	}
	if t.MarketHashName != nil {
		k.MarketHashName = t.MarketHashName.Value
	}
	return k
}

// ItemStack is an amount of one item type with its per-instance decorations
type ItemStack struct {
	ID          int64
	Type        *ItemType
	Amount      int
	NameTag     string
	StoredCount *int
	Stickers    []*Sticker
}

// Key returns the merge key of the stack. Two stacks with equal keys are the
// same item and only differ in amount. Sticker order is significant.
func (s *ItemStack) Key() string {
	var b strings.Builder
	if s.Type != nil {
		k := s.Type.Key()
		for _, part := range []string{k.Name, k.Set, k.Category, k.Exterior, k.Rarity, k.Variant.String(), k.MarketHashName} {
			b.WriteString(part)
			b.WriteByte(0x1f)
		}
	}
	b.WriteByte(0x1e)
	b.WriteString(s.NameTag)
	b.WriteByte(0x1e)
	if s.StoredCount != nil {
		b.WriteString(strconv.Itoa(*s.StoredCount))
	} else {
		b.WriteByte('-')
	}
	for _, st := range s.Stickers {
		b.WriteByte(0x1e)
		b.WriteString(st.Name)
		b.WriteByte(0x1f)
		b.WriteString(st.Finish.String())
	}
	return b.String()
}

// steamID64Prefix is shared by every individual account id
const steamID64Prefix = "7656119"

// ValidID64 reports whether s is a 17-digit individual account id
func ValidID64(s string) bool {
	if len(s) != 17 || !strings.HasPrefix(s, steamID64Prefix) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
