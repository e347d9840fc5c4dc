package inventory

import (
	"regexp"
	"strconv"
	"strings"

	"invcrawler/pkg/model"
	"invcrawler/pkg/steam"
)

const (
	statTrakMarker = "StatTrak™ "
	souvenirMarker = "Souvenir "
)

var (
	stickerListRe = regexp.MustCompile(`Sticker: ([^<]+)`)
	nameTagRe     = regexp.MustCompile(`Name Tag: ''(.*)''`)
	storedCountRe = regexp.MustCompile(`Number of Items(?: Stored)?: (\d+)`)
)

var stickerFinishes = []struct {
	token  string
	finish model.StickerFinish
}{
	{"(Holo)", model.FinishHolo},
	{"(Foil)", model.FinishFoil},
	{"(Gold)", model.FinishGold},
	{"(Glitter)", model.FinishGlitter},
	{"(Lenticular)", model.FinishLenticular},
}

// Describe turns an upstream description into an item stack of amount zero.
// The returned entities carry no ids; they still need canonicalizing.
func Describe(d steam.Description) *model.ItemStack {
	name, variant := splitVariant(d.Name)

	itemType := &model.ItemType{
		Name:    &model.Name{Value: name},
		Variant: variant,
	}
	if d.MarketHashName != "" {
		itemType.MarketHashName = &model.Name{Value: d.MarketHashName}
	}

	category := d.Type
	for _, tag := range d.Tags {
		value := tag.LocalizedTagName
		switch tag.Category {
		case "Type":
			if value != "" {
				category = value
			}
		case "ItemSet":
			if value != "" {
				itemType.Set = &model.Set{Value: value}
			}
		case "Exterior":
			itemType.Exterior = value
		case "Rarity":
			itemType.Rarity = value
		case "Quality":
			// souvenir packages carry the quality without the name prefix
			if tag.InternalName == "tournament" && itemType.Variant == model.VariantNone {
				itemType.Variant = model.VariantSouvenir
			}
		}
	}
	itemType.Category = &model.Category{Value: category}

	stack := &model.ItemStack{Type: itemType}
	for _, row := range d.Descriptions {
		if m := stickerListRe.FindStringSubmatch(row.Value); m != nil && stack.Stickers == nil {
			stack.Stickers = parseStickers(m[1])
		}
		if m := storedCountRe.FindStringSubmatch(row.Value); m != nil && stack.StoredCount == nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				stack.StoredCount = &n
			}
		}
	}
	for _, warning := range d.FraudWarnings {
		if m := nameTagRe.FindStringSubmatch(warning); m != nil {
			stack.NameTag = m[1]
			break
		}
	}

	return stack
}

// splitVariant strips the StatTrak or Souvenir marker from a display name
func splitVariant(name string) (string, model.SpecialVariant) {
	if strings.Contains(name, statTrakMarker) {
		return strings.Replace(name, statTrakMarker, "", 1), model.VariantStatTrak
	}
	if strings.HasPrefix(name, souvenirMarker) {
		return strings.TrimPrefix(name, souvenirMarker), model.VariantSouvenir
	}
	return name, model.VariantNone
}

// parseStickers splits a sticker list keeping its slot order
func parseStickers(list string) []*model.Sticker {
	var stickers []*model.Sticker
	for _, part := range strings.Split(list, ", ") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		st := &model.Sticker{Name: name, Finish: model.FinishPaper}
		for _, f := range stickerFinishes {
			if strings.Contains(name, f.token) {
				st.Finish = f.finish
				break
			}
		}
		stickers = append(stickers, st)
	}
	return stickers
}
