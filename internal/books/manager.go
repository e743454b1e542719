// Package books tracks top-of-book state for the tokens of one market.
//
// The monitor samples state at cycle boundaries instead of reacting to every
// update, so the manager keeps current best levels plus the period-low
// extremes observed since the last cycle boundary.
package books

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mselser95/updown-pairs/pkg/pricing"
	"github.com/mselser95/updown-pairs/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Manager maintains book tops for all tokens seen on one feed connection.
type Manager struct {
	books       map[string]*types.BookTop // key: token_id
	mu          sync.RWMutex
	logger      *zap.Logger
	msgChan     <-chan *types.BookMessage
	lastMessage atomic.Int64 // unix nanos of the newest feed message
	ctx         context.Context
	wg          sync.WaitGroup
}

// Config holds book manager configuration.
type Config struct {
	Logger         *zap.Logger
	MessageChannel <-chan *types.BookMessage
}

// New creates a new book manager.
func New(cfg *Config) *Manager {
	return &Manager{
		books:   make(map[string]*types.BookTop),
		logger:  cfg.Logger,
		msgChan: cfg.MessageChannel,
	}
}

// Start starts the book manager.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx = ctx
	m.logger.Info("book-manager-starting")

	m.wg.Add(1)
	go m.processMessages()

	return nil
}

// processMessages consumes feed messages until the channel closes or the
// context is done.
func (m *Manager) processMessages() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("book-manager-stopping")
			return
		case msg, ok := <-m.msgChan:
			if !ok {
				m.logger.Info("message-channel-closed")
				return
			}

			err := m.handleMessage(msg)
			if err != nil {
				ParseErrorsTotal.Inc()
				m.logger.Warn("handle-message-error",
					zap.Error(err),
					zap.String("event-type", msg.EventType),
					zap.String("asset-id", msg.AssetID))
			}
		}
	}
}

// handleMessage processes a single feed message.
func (m *Manager) handleMessage(msg *types.BookMessage) error {
	timer := prometheus.NewTimer(UpdateProcessingDuration)
	defer timer.ObserveDuration()

	m.lastMessage.Store(time.Now().UnixNano())
	UpdatesTotal.WithLabelValues(msg.EventType).Inc()

	switch msg.EventType {
	case "book":
		return m.handleBookMessage(msg)
	case "price_change":
		return m.handlePriceChangeMessage(msg)
	case "last_trade_price":
		return m.handleLastTradeMessage(msg)
	default:
		// Ignore other message types
		return nil
	}
}

// handleBookMessage handles a full book snapshot. Best bid is the highest
// bid level, best ask the lowest ask level; levels are not ordered on the
// wire so every level is scanned.
func (m *Manager) handleBookMessage(msg *types.BookMessage) error {
	bidPoints, err := bestLevel(msg.Bids, true)
	if err != nil {
		return fmt.Errorf("scan bids: %w", err)
	}

	askPoints, err := bestLevel(msg.Asks, false)
	if err != nil {
		return fmt.Errorf("scan asks: %w", err)
	}

	m.mu.Lock()
	top := m.ensureTopLocked(msg.AssetID)
	top.BidPoints = bidPoints
	top.AskPoints = askPoints
	m.applyPeriodLowsLocked(top)
	top.LastUpdated = time.Now()
	m.mu.Unlock()

	m.logger.Debug("book-snapshot-updated",
		zap.String("token-id", msg.AssetID),
		zap.Int("bid-points", bidPoints),
		zap.Int("ask-points", askPoints))

	return nil
}

// handlePriceChangeMessage applies the per-token best levels carried by a
// price_change event.
func (m *Manager) handlePriceChangeMessage(msg *types.BookMessage) error {
	for i := range msg.PriceChanges {
		change := &msg.PriceChanges[i]

		var bidPoints, askPoints int
		var err error

		if change.BestBid != "" {
			bidPoints, err = pricing.PriceToPoints(change.BestBid)
			if err != nil {
				return fmt.Errorf("parse best_bid %q: %w", change.BestBid, err)
			}
		}

		if change.BestAsk != "" {
			askPoints, err = pricing.PriceToPoints(change.BestAsk)
			if err != nil {
				return fmt.Errorf("parse best_ask %q: %w", change.BestAsk, err)
			}
		}

		m.mu.Lock()
		top := m.ensureTopLocked(change.AssetID)
		if bidPoints > 0 {
			top.BidPoints = bidPoints
		}
		if askPoints > 0 {
			top.AskPoints = askPoints
		}
		m.applyPeriodLowsLocked(top)
		top.LastUpdated = time.Now()
		m.mu.Unlock()

		m.logger.Debug("book-price-updated",
			zap.String("token-id", change.AssetID),
			zap.Int("bid-points", bidPoints),
			zap.Int("ask-points", askPoints))
	}

	return nil
}

// handleLastTradeMessage records the most recent trade price for a token.
func (m *Manager) handleLastTradeMessage(msg *types.BookMessage) error {
	if msg.Price == "" {
		return nil
	}

	points, err := pricing.PriceToPoints(msg.Price)
	if err != nil {
		return fmt.Errorf("parse last trade price %q: %w", msg.Price, err)
	}

	m.mu.Lock()
	top := m.ensureTopLocked(msg.AssetID)
	top.LastTradePoints = points
	top.LastUpdated = time.Now()
	m.mu.Unlock()

	m.logger.Debug("last-trade-updated",
		zap.String("token-id", msg.AssetID),
		zap.Int("price-points", points))

	return nil
}

// ensureTopLocked returns the token's top, creating it if absent.
// Caller must hold m.mu.
func (m *Manager) ensureTopLocked(tokenID string) *types.BookTop {
	top, exists := m.books[tokenID]
	if !exists {
		top = &types.BookTop{TokenID: tokenID}
		m.books[tokenID] = top
		TokensTracked.Set(float64(len(m.books)))
	}
	return top
}

// applyPeriodLowsLocked folds the current best levels into the period lows.
// Caller must hold m.mu.
func (m *Manager) applyPeriodLowsLocked(top *types.BookTop) {
	if top.AskPoints > 0 {
		if top.PeriodLowAskPoints == 0 || top.AskPoints < top.PeriodLowAskPoints {
			top.PeriodLowAskPoints = top.AskPoints
		}
	}
	if top.BidPoints > 0 {
		if top.PeriodLowBidPoints == 0 || top.BidPoints < top.PeriodLowBidPoints {
			top.PeriodLowBidPoints = top.BidPoints
		}
	}
}

// bestLevel scans price levels for the best price in integer points.
// wantMax selects the highest level (bids); otherwise the lowest (asks).
// An empty side yields 0, meaning the side is currently absent.
func bestLevel(levels []types.PriceLevel, wantMax bool) (int, error) {
	best := 0
	for i := range levels {
		points, err := pricing.PriceToPoints(levels[i].Price)
		if err != nil {
			return 0, fmt.Errorf("parse level price %q: %w", levels[i].Price, err)
		}
		if points <= 0 {
			continue
		}
		if best == 0 {
			best = points
			continue
		}
		if wantMax && points > best {
			best = points
		}
		if !wantMax && points < best {
			best = points
		}
	}
	return best, nil
}

// Top returns a copy of the token's book top.
func (m *Manager) Top(tokenID string) (types.BookTop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	top, exists := m.books[tokenID]
	if !exists {
		return types.BookTop{}, false
	}

	return *top, true
}

// ResetPeriodLows closes the current accumulation period. The new period is
// seeded with the current best levels so the next cycle's lows never predate
// the reset.
func (m *Manager) ResetPeriodLows() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, top := range m.books {
		top.PeriodLowAskPoints = top.AskPoints
		top.PeriodLowBidPoints = top.BidPoints
	}
}

// LastMessageTime returns the wall time of the newest feed message, or the
// zero time if nothing has arrived yet.
func (m *Manager) LastMessageTime() time.Time {
	nanos := m.lastMessage.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// WaitForBooks blocks until every listed token has a valid two-sided book,
// the timeout elapses, or ctx is done.
func (m *Manager) WaitForBooks(ctx context.Context, tokenIDs []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.allValid(tokenIDs) {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("books not ready after %v: %w", timeout, types.ErrNoBookData)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) allValid(tokenIDs []string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tokenID := range tokenIDs {
		top, exists := m.books[tokenID]
		if !exists || !top.Valid() {
			return false
		}
	}
	return true
}

// Close gracefully closes the book manager.
func (m *Manager) Close() error {
	m.logger.Info("closing-book-manager")
	m.wg.Wait()
	m.logger.Info("book-manager-closed")
	return nil
}
