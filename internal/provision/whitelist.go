package provision

import (
	"encoding/json"
	"log"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/addrbook/provisioner/internal/browser"
)

// The whitelist endpoint the exchange calls when the withdrawal-address
// page loads. Its payload is the authoritative "already added" set.
const whitelistURLFragment = "withdraw/address-by-type"

type whitelistPayload struct {
	Data struct {
		AddressList []struct {
			Address string `json:"address"`
		} `json:"addressList"`
	} `json:"data"`
}

// CaptureWhitelist installs a network listener that reports the remote
// whitelist whenever the address page fetches it. The callback runs off
// the listener goroutine; install before navigating.
func CaptureWhitelist(session *browser.Session, onAddresses func([]string)) {
	ctx := session.Context()

	chromedp.ListenTarget(ctx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || !strings.Contains(resp.Response.URL, whitelistURLFragment) {
			return
		}
		requestID := resp.RequestID

		go func() {
			c := chromedp.FromContext(ctx)
			body, err := network.GetResponseBody(requestID).Do(cdp.WithExecutor(ctx, c.Target))
			if err != nil {
				log.Printf("Warning: failed to read whitelist response: %v", err)
				return
			}
			addrs := ParseWhitelistJSON(body)
			if len(addrs) > 0 {
				onAddresses(addrs)
			}
		}()
	})
}

// ParseWhitelistJSON extracts addresses from the whitelist API payload
func ParseWhitelistJSON(body []byte) []string {
	var payload whitelistPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("Warning: failed to parse whitelist payload: %v", err)
		return nil
	}

	addrs := make([]string, 0, len(payload.Data.AddressList))
	for _, entry := range payload.Data.AddressList {
		if entry.Address != "" {
			addrs = append(addrs, entry.Address)
		}
	}
	return addrs
}

// addressLike matches wallet-address-shaped tokens in rendered cells
var addressLike = regexp.MustCompile(`^(0x[0-9a-fA-F]{6,}|[1-9A-HJ-NP-Za-km-z]{25,})$`)

// ParseWhitelistHTML is the fallback when the API response was missed:
// scrape address-shaped cell text out of the rendered whitelist table.
func ParseWhitelistHTML(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var addrs []string
	doc.Find("td, [class*=address]").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if !addressLike.MatchString(text) {
			return
		}
		key := strings.ToLower(text)
		if seen[key] {
			return
		}
		seen[key] = true
		addrs = append(addrs, text)
	})

	return addrs, nil
}
