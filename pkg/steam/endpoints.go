package steam

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	// BaseURL is the Steam Community origin
	BaseURL = "https://steamcommunity.com"

	// AppID and ContextID select the CS item context of an inventory
	AppID     = 730
	ContextID = 2

	// DefaultPageSize is the largest page the inventory endpoint serves
	DefaultPageSize = 500

	// MemberPageSize is the fixed page size of group member listings
	MemberPageSize = 1000
)

// InventoryURL builds the URL of one inventory page. An empty startAssetID
// requests the first page; an empty key sends no API key.
func InventoryURL(base, id64, language string, count int, startAssetID, key string) string {
	if count <= 0 || count > DefaultPageSize {
		count = DefaultPageSize
	}
	if language == "" {
		language = "english"
	}

	params := url.Values{}
	params.Set("l", language)
	params.Set("count", strconv.Itoa(count))
	if startAssetID != "" {
		params.Set("start_assetid", startAssetID)
	}
	if key != "" {
		params.Set("key", key)
	}

	return fmt.Sprintf("%s/inventory/%s/%d/%d?%s", base, url.PathEscape(id64), AppID, ContextID, params.Encode())
}

// GroupMembersURL builds the URL of one member-list page. Pages start at 1.
// Purely numeric group identifiers are addressed by gid, anything else by
// vanity name.
func GroupMembersURL(base, group string, page int) string {
	if page < 1 {
		page = 1
	}

	path := "groups"
	if isNumeric(group) {
		path = "gid"
	}
	return fmt.Sprintf("%s/%s/%s/memberslistxml/?xml=1&p=%d", base, path, url.PathEscape(group), page)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
