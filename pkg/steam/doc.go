// Package steam is the HTTP transport for the Steam Community endpoints the
// crawler reads: paginated CS inventories and group member listings.
//
// A Client is bound to one proxy (or a direct connection) and one request
// pace. Every non-success response is returned as a classified
// *errors.Error so callers can decide whether to trip the rate-limit gate:
//
//	client, err := steam.NewClient(steam.Options{
//	    BaseURL: steam.BaseURL,
//	    Proxy:   "http://10.0.0.2:3128",
//	    Timeout: 30 * time.Second,
//	})
//	page, err := client.GetInventoryPage(ctx, "76561198000000000", "")
//	if errors.Is(err, errors.ErrorTypeRateLimit) {
//	    g.Trip("rate_limit")
//	}
package steam
