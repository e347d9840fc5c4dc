package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rifle() *ItemType {
	return &ItemType{
		Name:     &Name{Value: "AK-47 | Redline"},
		Set:      &Set{Value: "The Phoenix Collection"},
		Category: &Category{Value: "Rifle"},
		Exterior: "Field-Tested",
		Rarity:   "Classified",
	}
}

func TestItemTypeKeyIgnoresIDs(t *testing.T) {
	a := rifle()
	b := rifle()
	b.ID = 42
	b.Name.ID = 7

	assert.Equal(t, a.Key(), b.Key())

	b.Variant = VariantStatTrak
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestItemTypeKeyAbsentSet(t *testing.T) {
	a := rifle()
	a.Set = nil
	assert.Equal(t, "", a.Key().Set)
	assert.NotEqual(t, rifle().Key(), a.Key())
}

func TestItemStackKey(t *testing.T) {
	holo := &Sticker{Name: "Natus Vincere (Holo) | Katowice 2014", Finish: FinishHolo}
	paper := &Sticker{Name: "Titan | Katowice 2014", Finish: FinishPaper}
	five := 5

	base := &ItemStack{Type: rifle(), Amount: 1, Stickers: []*Sticker{holo, paper}}

	t.Run("amount is not part of the key", func(t *testing.T) {
		other := &ItemStack{Type: rifle(), Amount: 9, Stickers: []*Sticker{holo, paper}}
		assert.Equal(t, base.Key(), other.Key())
	})

	t.Run("sticker order matters", func(t *testing.T) {
		swapped := &ItemStack{Type: rifle(), Amount: 1, Stickers: []*Sticker{paper, holo}}
		assert.NotEqual(t, base.Key(), swapped.Key())
	})

	t.Run("name tag matters", func(t *testing.T) {
		tagged := &ItemStack{Type: rifle(), NameTag: "Grandpa", Stickers: []*Sticker{holo, paper}}
		assert.NotEqual(t, base.Key(), tagged.Key())
	})

	t.Run("stored count distinguishes zero from absent", func(t *testing.T) {
		zero := 0
		a := &ItemStack{Type: rifle(), StoredCount: &zero}
		b := &ItemStack{Type: rifle()}
		c := &ItemStack{Type: rifle(), StoredCount: &five}
		assert.NotEqual(t, a.Key(), b.Key())
		assert.NotEqual(t, a.Key(), c.Key())
	})
}

func TestValidID64(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"76561198000000001", true},
		{"76561197960265728", true},
		{"7656119800000000", false},
		{"765611980000000012", false},
		{"12345678901234567", false},
		{"7656119800000000a", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidID64(tt.id), tt.id)
	}
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "stattrak", VariantStatTrak.String())
	assert.Equal(t, "souvenir", VariantSouvenir.String())
	assert.Equal(t, "none", VariantNone.String())
	assert.Equal(t, "lenticular", FinishLenticular.String())
	assert.Equal(t, "paper", StickerFinish(99).String())
	assert.Equal(t, "category", LeafCategory.String())
}
