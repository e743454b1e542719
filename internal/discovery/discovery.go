// Package discovery resolves the current and next updown windows for an
// asset through the Gamma API. Window slugs are deterministic
// ({asset}-updown-{type}-{unix}), so the primary path is a targeted slug
// lookup; a broad listing scan covers slug drift.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/pkg/cache"
	"github.com/mselser95/updown-pairs/pkg/pricing"
	"github.com/mselser95/updown-pairs/pkg/types"
)

// defaultWindowSeconds is the updown window length.
const defaultWindowSeconds = 900

// Service finds monitorable markets. Parsed markets are cached for the
// window length so the per-asset retry loop stops hitting the API once a
// window resolves.
type Service struct {
	client        *Client
	cache         cache.Cache
	marketType    string
	windowSeconds int64
	lead          time.Duration
	logger        *zap.Logger

	now func() time.Time
}

// Config holds discovery service configuration.
type Config struct {
	Client     *Client
	Cache      cache.Cache
	MarketType string // slug infix, e.g. "15m"
	// WindowSeconds overrides the 900s window length, for tests.
	WindowSeconds int64
	// PreDiscoveryLead shifts cold-start probing to the successor window
	// when less than this remains in the current one.
	PreDiscoveryLead time.Duration
	Logger           *zap.Logger
}

// New creates a new discovery service.
func New(cfg *Config) *Service {
	window := cfg.WindowSeconds
	if window <= 0 {
		window = defaultWindowSeconds
	}
	return &Service{
		client:        cfg.Client,
		cache:         cfg.Cache,
		marketType:    cfg.MarketType,
		windowSeconds: window,
		lead:          cfg.PreDiscoveryLead,
		logger:        cfg.Logger,
		now:           time.Now,
	}
}

// WindowSeconds returns the window length this service resolves.
func (s *Service) WindowSeconds() int64 { return s.windowSeconds }

// BuildSlug constructs the deterministic window slug for an asset and a
// window-start timestamp.
func (s *Service) BuildSlug(asset string, ts int64) string {
	return fmt.Sprintf("%s-updown-%s-%d", asset, s.marketType, ts)
}

// ParseSlugTimestamp extracts the window-start unix timestamp from a slug's
// final dash-separated segment.
func ParseSlugTimestamp(slug string) (int64, error) {
	idx := strings.LastIndex(slug, "-")
	if idx < 0 || idx == len(slug)-1 {
		return 0, fmt.Errorf("slug %q has no timestamp segment", slug)
	}
	ts, err := strconv.ParseInt(slug[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("slug %q timestamp: %w", slug, err)
	}
	return ts, nil
}

// AssetFromSlug extracts the asset prefix from a window slug, e.g.
// "btc-updown-15m-1760000400" yields "btc".
func AssetFromSlug(slug string) (string, error) {
	idx := strings.Index(slug, "-updown-")
	if idx <= 0 {
		return "", fmt.Errorf("slug %q is not an updown window slug", slug)
	}
	return slug[:idx], nil
}

// FindMarket resolves the next monitorable window for the asset. With a
// previous window timestamp the lookup targets exactly the successor slug;
// otherwise it probes the current window and its neighbors, then falls back
// to scanning the open-events listing. Returns nil without error when no
// window is live yet; the caller retries.
func (s *Service) FindMarket(ctx context.Context, asset string, lastSlugTS int64) (*types.Market, error) {
	now := s.now()

	var lastErr error
	for _, ts := range s.candidateTimestamps(lastSlugTS, now) {
		slug := s.BuildSlug(asset, ts)
		market, err := s.lookupSlug(ctx, asset, slug, now)
		if err != nil {
			lastErr = err
			s.logger.Debug("slug-lookup-failed", zap.String("slug", slug), zap.Error(err))
			continue
		}
		if market != nil {
			MarketsFoundTotal.WithLabelValues(asset, "slug").Inc()
			return market, nil
		}
	}

	market, err := s.findFromListing(ctx, asset, now)
	if err != nil {
		if lastErr != nil {
			return nil, fmt.Errorf("listing fallback after %v: %w", lastErr, err)
		}
		return nil, err
	}
	if market != nil {
		MarketsFoundTotal.WithLabelValues(asset, "listing").Inc()
	}
	return market, nil
}

// FindMarketBySlug resolves one specific window slug. Returns nil without
// error when the window does not exist or has already settled.
func (s *Service) FindMarketBySlug(ctx context.Context, asset, slug string) (*types.Market, error) {
	return s.lookupSlug(ctx, asset, slug, s.now())
}

// candidateTimestamps orders the window starts worth probing. Successor
// lookups are exact; cold starts probe the aligned current window plus one
// window to either side to absorb clock skew around a boundary. Near the
// end of the current window the successor is probed first, since the
// remaining stretch is too short to be worth a monitor rotation.
func (s *Service) candidateTimestamps(lastSlugTS int64, now time.Time) []int64 {
	if lastSlugTS > 0 {
		return []int64{lastSlugTS + s.windowSeconds}
	}
	current := now.Unix() - now.Unix()%s.windowSeconds
	next := current + s.windowSeconds
	prev := current - s.windowSeconds
	if remaining := time.Duration(next-now.Unix()) * time.Second; s.lead > 0 && remaining <= s.lead {
		return []int64{next, current, prev}
	}
	return []int64{current, next, prev}
}

func (s *Service) lookupSlug(ctx context.Context, asset, slug string, now time.Time) (*types.Market, error) {
	if v, ok := s.cache.Get(slugCacheKey(slug)); ok {
		if market, ok := v.(*types.Market); ok && market.TimeRemaining(now) > 0 {
			CacheHitsTotal.Inc()
			return market, nil
		}
		s.cache.Delete(slugCacheKey(slug))
	}

	events, err := s.client.FetchEventsBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	market := s.parseEvent(&events[0], asset, now)
	if market == nil {
		return nil, nil
	}
	s.cacheMarket(market, now)
	return market, nil
}

// findFromListing scans open events for the asset's slug prefix and picks
// the window settling soonest but still in the future.
func (s *Service) findFromListing(ctx context.Context, asset string, now time.Time) (*types.Market, error) {
	events, err := s.client.FetchOpenEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch open events: %w", err)
	}

	prefix := fmt.Sprintf("%s-updown-%s-", asset, s.marketType)
	var best *types.Market
	for i := range events {
		if !strings.HasPrefix(events[i].Slug, prefix) {
			continue
		}
		market := s.parseEvent(&events[i], asset, now)
		if market == nil {
			continue
		}
		if best == nil || market.SettlementTime.Before(best.SettlementTime) {
			best = market
		}
	}
	if best != nil {
		s.cacheMarket(best, now)
	}
	return best, nil
}

// parseEvent converts one Gamma event into a monitorable market, or nil
// when the event is closed, already settled, or missing its token pair.
func (s *Service) parseEvent(event *types.GammaEvent, asset string, now time.Time) *types.Market {
	if event.Closed || len(event.Markets) == 0 {
		return nil
	}
	gm := &event.Markets[0]
	if gm.Closed {
		return nil
	}

	yes := gm.TokenBySide(types.SideYes)
	no := gm.TokenBySide(types.SideNo)
	if yes == nil || no == nil {
		s.logger.Debug("event-missing-token-pair",
			zap.String("slug", event.Slug),
			zap.String("outcomes", gm.Outcomes))
		return nil
	}

	settlement := s.settlementTime(event, gm)
	if settlement.IsZero() || !settlement.After(now) {
		return nil
	}

	return &types.Market{
		MarketID:       event.Slug,
		CryptoAsset:    asset,
		ConditionID:    gm.ConditionID,
		YesTokenID:     yes.TokenID,
		NoTokenID:      no.TokenID,
		StartTime:      settlement.Add(-time.Duration(s.windowSeconds) * time.Second),
		SettlementTime: settlement,
		TickSizePoints: tickPoints(gm.MinTickSize.String()),
	}
}

// settlementTime resolves the window end, in priority order: the event's
// endDate when it carries a time component, the nested market's endDateIso,
// then the slug timestamp plus one window.
func (s *Service) settlementTime(event *types.GammaEvent, gm *types.GammaMarket) time.Time {
	if strings.Contains(event.EndDate, "T") {
		if t, err := time.Parse(time.RFC3339, event.EndDate); err == nil {
			return t.UTC()
		}
	}
	if gm.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDateISO); err == nil {
			return t.UTC()
		}
		if t, err := time.Parse("2006-01-02", gm.EndDateISO); err == nil {
			return t.UTC()
		}
	}
	if ts, err := ParseSlugTimestamp(event.Slug); err == nil {
		return time.Unix(ts+s.windowSeconds, 0).UTC()
	}
	return time.Time{}
}

func (s *Service) cacheMarket(market *types.Market, now time.Time) {
	ttl := market.SettlementTime.Sub(now)
	if ttl <= 0 {
		return
	}
	s.cache.Set(slugCacheKey(market.MarketID), market, ttl)
}

func slugCacheKey(slug string) string { return "event:" + slug }

// tickPoints converts Gamma's decimal tick ("0.01") to integer points,
// flooring at one point since triggers are integral.
func tickPoints(raw string) int {
	if raw == "" {
		return 1
	}
	points, err := pricing.PriceToPoints(raw)
	if err != nil || points < 1 {
		return 1
	}
	return points
}
