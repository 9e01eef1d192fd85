// Package fetch provides the source page gateways behind the aggregation
// engine: RSS-mirrored channels over HTTP, ingested chats out of the local
// message store, and a router choosing between them per source.
//
// Every gateway answers the same question: give me up to limit items of this
// source, newest first from cursor (0 = newest page, otherwise strictly older
// than cursor), returned in ascending date order.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/abelbrown/chatfeed/internal/model"
)

// userAgent identifies us to feed servers.
const userAgent = "chatfeed/0.3 (+https://github.com/abelbrown/chatfeed)"

// RSSGateway pages channels that are mirrored as RSS or Atom feeds.
// A feed only exposes its recent window, so older pages run dry quickly.
type RSSGateway struct {
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRSSGateway creates a gateway with the given HTTP timeout. Requests are
// spaced by at least interval across all feeds.
func NewRSSGateway(timeout, interval time.Duration) *RSSGateway {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &RSSGateway{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

// Fetch downloads the feed and returns the requested page of it.
func (g *RSSGateway) Fetch(ctx context.Context, src model.Source, cursor int64, limit int) ([]model.Item, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if src.FeedURL == "" {
		return nil, fmt.Errorf("source %s has no feed URL", src.ID)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	now := g.now()
	items := make([]model.Item, 0, len(feed.Items))
	for _, fi := range feed.Items {
		items = append(items, convertFeedItem(fi, src, now))
	}

	return paginate(items, cursor, limit), nil
}

// paginate applies cursor and limit to a full item list.
func paginate(items []model.Item, cursor int64, limit int) []model.Item {
	if limit <= 0 {
		return []model.Item{}
	}

	page := make([]model.Item, 0, len(items))
	for _, it := range items {
		if cursor > 0 && it.Date >= cursor {
			continue
		}
		page = append(page, it)
	}

	sort.SliceStable(page, func(i, j int) bool { return page[i].Before(page[j]) })
	if len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page
}

// convertFeedItem turns a feed entry into a chat item.
func convertFeedItem(fi *gofeed.Item, src model.Source, fetchTime time.Time) model.Item {
	published := fetchTime
	if fi.PublishedParsed != nil {
		published = *fi.PublishedParsed
	} else if fi.UpdatedParsed != nil {
		published = *fi.UpdatedParsed
	}

	text := strings.TrimSpace(fi.Title)
	body := strings.TrimSpace(fi.Description)
	if body == "" {
		body = strings.TrimSpace(fi.Content)
	}
	if body != "" && body != text {
		if text != "" {
			text += "\n"
		}
		text += truncate(body, 500)
	}

	item := model.Item{
		SourceID: src.ID,
		ItemID:   generateID(fi),
		Date:     published.Unix(),
		HasText:  text != "",
		Text:     text,
	}

	switch {
	case fi.Image != nil && fi.Image.URL != "":
		item.Media = &model.Media{Kind: model.MediaPhoto, URL: fi.Image.URL}
	case len(fi.Enclosures) > 0 && fi.Enclosures[0].URL != "":
		item.Media = &model.Media{Kind: enclosureKind(fi.Enclosures[0].Type), URL: fi.Enclosures[0].URL}
	case fi.Link != "":
		item.Media = &model.Media{Kind: model.MediaLink, URL: fi.Link}
	}

	return item
}

func enclosureKind(mimeType string) model.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return model.MediaPhoto
	case strings.HasPrefix(mimeType, "video/"):
		return model.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return model.MediaAudio
	default:
		return model.MediaDocument
	}
}

// generateID creates a deterministic ID for a feed item.
// Uses the GUID if available, otherwise the link, otherwise title + date.
func generateID(fi *gofeed.Item) string {
	if fi.GUID != "" {
		return hashString(fi.GUID)
	}
	if fi.Link != "" {
		return hashString(fi.Link)
	}
	key := fi.Title
	if fi.PublishedParsed != nil {
		key += fi.PublishedParsed.String()
	}
	return hashString(key)
}

// hashString creates a 16 character hex ID.
func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:8])
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
