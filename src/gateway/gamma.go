package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// MarketSlug builds the slug of a 15-minute up/down market from its symbol
// and decision window start (unix seconds).
func MarketSlug(symbol string, window time.Time) string {
	return fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(symbol), window.Unix())
}

// MarketTokens are the CLOB token IDs of a binary market's two outcomes.
type MarketTokens struct {
	Up   string
	Down string
}

// TokenFor returns the token matching an order side: buys enter the up
// outcome, sells the down outcome.
func (t MarketTokens) TokenFor(side string) string {
	if strings.EqualFold(side, "sell") {
		return t.Down
	}
	return t.Up
}

// GammaResolver maps market slugs to CLOB token IDs via the Gamma markets
// endpoint. Resolved markets are cached; up/down markets are immutable once
// created, so entries only expire to bound memory.
type GammaResolver struct {
	log  *logger.Entry
	http *resty.Client

	mu    sync.Mutex
	cache map[string]MarketTokens
}

// NewGammaResolver builds a resolver from config.
func NewGammaResolver(log *logger.Entry, config Config) *GammaResolver {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(config.GammaBaseURL, "/")).
		SetTimeout(config.RequestTimeout).
		SetRetryCount(config.ReadRetryCount).
		SetRetryWaitTime(config.ReadRetryWaitTime).
		SetRetryMaxWaitTime(config.ReadRetryMaxWait)

	return &GammaResolver{
		log:   log,
		http:  client,
		cache: make(map[string]MarketTokens),
	}
}

type gammaMarket struct {
	// clobTokenIds is a JSON string holding an array of two token IDs,
	// [up, down].
	ClobTokenIDs string `json:"clobTokenIds"`
}

// Resolve returns the token IDs for a market slug.
func (r *GammaResolver) Resolve(ctx context.Context, slug string) (MarketTokens, error) {
	r.mu.Lock()
	if tokens, ok := r.cache[slug]; ok {
		r.mu.Unlock()
		return tokens, nil
	}
	r.mu.Unlock()

	var market gammaMarket
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&market).
		Get("/markets/slug/" + slug)
	if err != nil {
		return MarketTokens{}, &TransportError{Op: "resolveMarket", Err: err}
	}

	if resp.StatusCode() == http.StatusNotFound {
		return MarketTokens{}, fmt.Errorf("market %q not found", slug)
	}
	if resp.StatusCode() != http.StatusOK {
		return MarketTokens{}, fmt.Errorf("market lookup failed: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	var ids []string
	if err := json.Unmarshal([]byte(market.ClobTokenIDs), &ids); err != nil {
		return MarketTokens{}, fmt.Errorf("bad clobTokenIds for %q: %w", slug, err)
	}
	if len(ids) != 2 {
		return MarketTokens{}, fmt.Errorf("market %q has %d outcome tokens, want 2", slug, len(ids))
	}

	tokens := MarketTokens{Up: ids[0], Down: ids[1]}

	r.mu.Lock()
	r.cache[slug] = tokens
	r.mu.Unlock()

	r.log.WithFields(map[string]interface{}{
		"component": "GammaResolver",
		"slug":      slug,
	}).Debug("Market resolved")

	return tokens, nil
}
