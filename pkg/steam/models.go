package steam

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// InventoryPage is one page of the inventory endpoint
type InventoryPage struct {
	Assets              []Asset       `json:"assets"`
	Descriptions        []Description `json:"descriptions"`
	MoreItems           Flag          `json:"more_items"`
	LastAssetID         string        `json:"last_assetid"`
	TotalInventoryCount int           `json:"total_inventory_count"`
	Success             Flag          `json:"success"`
}

// Asset is one owned item instance (or a stack of identical ones)
type Asset struct {
	AppID      int    `json:"appid"`
	ContextID  string `json:"contextid"`
	AssetID    string `json:"assetid"`
	ClassID    string `json:"classid"`
	InstanceID string `json:"instanceid"`
	Amount     string `json:"amount"`
}

// ClassKey identifies the description an asset refers to
func (a Asset) ClassKey() string {
	return a.ClassID + "_" + a.InstanceID
}

// Count returns the parsed amount, treating junk as one item
func (a Asset) Count() int {
	n, err := strconv.Atoi(a.Amount)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// Description describes every asset of one class
type Description struct {
	AppID          int              `json:"appid"`
	ClassID        string           `json:"classid"`
	InstanceID     string           `json:"instanceid"`
	Name           string           `json:"name"`
	MarketHashName string           `json:"market_hash_name"`
	Type           string           `json:"type"`
	Tags           []Tag            `json:"tags"`
	Descriptions   []DescriptionRow `json:"descriptions"`
	FraudWarnings  []string         `json:"fraudwarnings"`
}

// ClassKey identifies the assets this description applies to
func (d Description) ClassKey() string {
	return d.ClassID + "_" + d.InstanceID
}

// Tag is one classification of a description (Type, Exterior, Rarity, ...)
type Tag struct {
	Category              string `json:"category"`
	InternalName          string `json:"internal_name"`
	LocalizedCategoryName string `json:"localized_category_name"`
	LocalizedTagName      string `json:"localized_tag_name"`
}

// DescriptionRow is one line of the free-form item description
type DescriptionRow struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Flag decodes the endpoint's booleans, which arrive as 1/0 or true/false
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "1", "true", `"1"`, `"true"`:
		*f = true
		return nil
	case "0", "false", "null", `"0"`, `"false"`, `""`:
		*f = false
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid flag %s", data)
	}
	*f = n == 1
	return nil
}
