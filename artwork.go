package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coocood/freecache"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	freecachestore "github.com/eko/gocache/store/freecache/v4"
	"github.com/rs/zerolog"
)

const (
	itunesSearchURL = "https://itunes.apple.com/search"
	artworkSize     = "600x600bb"

	artworkCacheSize   = 1024 * 1024
	artworkCacheTTL    = 24 * time.Hour
	artworkNegativeTTL = time.Hour
	artworkMinInterval = 3 * time.Second
)

// ArtworkLookup resolves album and podcast artwork URLs through the iTunes
// Search API. Results are cached, misses with a shorter TTL, and outbound
// requests are spaced to stay under the API's rate limit.
type ArtworkLookup struct {
	http      *http.Client
	cache     *gocache.Cache[[]byte]
	searchURL string
	log       zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

func NewArtworkLookup(log zerolog.Logger) *ArtworkLookup {
	st := freecachestore.NewFreecache(
		freecache.NewCache(artworkCacheSize),
		store.WithExpiration(artworkCacheTTL),
	)
	return &ArtworkLookup{
		http:      &http.Client{Timeout: 10 * time.Second},
		cache:     gocache.New[[]byte](st),
		searchURL: itunesSearchURL,
		log:       log,
	}
}

// AlbumArtwork returns an artwork URL for a music album, or "" when none
// could be resolved.
func (a *ArtworkLookup) AlbumArtwork(ctx context.Context, artist, album string) string {
	key := "album|" + normalizeKey(artist) + "|" + normalizeKey(album)
	return a.lookup(ctx, key, artist+" "+album, url.Values{
		"entity": {"album"},
		"media":  {"music"},
	})
}

// PodcastArtwork returns an artwork URL for a podcast title.
func (a *ArtworkLookup) PodcastArtwork(ctx context.Context, title string) string {
	key := "podcast|" + normalizeKey(title)
	return a.lookup(ctx, key, title, url.Values{
		"entity": {"podcast"},
	})
}

func (a *ArtworkLookup) lookup(ctx context.Context, key, term string, params url.Values) string {
	if cached, err := a.cache.Get(ctx, key); err == nil {
		return string(cached)
	}

	a.mu.Lock()
	if time.Since(a.lastRequest) < artworkMinInterval {
		a.mu.Unlock()
		a.log.Debug().Str("term", term).Msg("Rate limited, skipping artwork lookup")
		return ""
	}
	a.lastRequest = time.Now()
	a.mu.Unlock()

	artwork := a.search(ctx, term, params)
	ttl := artworkCacheTTL
	if artwork == "" {
		ttl = artworkNegativeTTL
	}
	if err := a.cache.Set(ctx, key, []byte(artwork), store.WithExpiration(ttl)); err != nil {
		a.log.Debug().Err(err).Msg("Failed to cache artwork result")
	}
	return artwork
}

func (a *ArtworkLookup) search(ctx context.Context, term string, params url.Values) string {
	params.Set("term", term)
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.searchURL+"?"+params.Encode(), nil)
	if err != nil {
		return ""
	}
	resp, err := a.http.Do(req)
	if err != nil {
		a.log.Debug().Err(err).Str("term", term).Msg("Artwork search failed")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		a.log.Debug().Int("status", resp.StatusCode).Str("term", term).Msg("Artwork search returned error")
		return ""
	}

	var body struct {
		Results []struct {
			ArtworkURL100 string `json:"artworkUrl100"`
			ArtworkURL600 string `json:"artworkUrl600"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		a.log.Debug().Err(err).Str("term", term).Msg("Artwork response decode failed")
		return ""
	}
	if len(body.Results) == 0 {
		a.log.Debug().Str("term", term).Msg("No artwork results")
		return ""
	}

	artwork := body.Results[0].ArtworkURL100
	if artwork == "" {
		artwork = body.Results[0].ArtworkURL600
	}
	return strings.Replace(artwork, "100x100bb", artworkSize, 1)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
