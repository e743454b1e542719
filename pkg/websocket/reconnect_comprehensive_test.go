package websocket

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// TestReconnect_InitialDelay tests first retry uses initial delay
func TestReconnect_InitialDelay(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := ReconnectConfig{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          1 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0, // No jitter for predictable timing
	}

	rm := NewReconnectManager(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	attemptTimes := []time.Time{}

	connectFunc := func(_ context.Context) error {
		attemptTimes = append(attemptTimes, time.Now())
		if len(attemptTimes) >= 2 {
			cancel() // Stop after 2 attempts
		}
		return errors.New("connection failed")
	}

	_ = rm.Reconnect(ctx, connectFunc)

	if len(attemptTimes) < 2 {
		t.Fatalf("expected at least 2 attempts, got %d", len(attemptTimes))
	}

	// Check delay between first and second attempt.
	// Allow generous tolerance for system timing variability.
	delay := attemptTimes[1].Sub(attemptTimes[0])
	if delay < 50*time.Millisecond || delay > 250*time.Millisecond {
		t.Errorf("expected initial delay ~100ms, got %v", delay)
	}
}

// TestReconnect_ExponentialGrowth tests backoff grows each attempt
func TestReconnect_ExponentialGrowth(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := ReconnectConfig{
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          1 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0,
	}

	rm := NewReconnectManager(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	attemptTimes := []time.Time{}

	connectFunc := func(_ context.Context) error {
		attemptTimes = append(attemptTimes, time.Now())
		if len(attemptTimes) >= 4 {
			cancel()
		}
		return errors.New("connection failed")
	}

	_ = rm.Reconnect(ctx, connectFunc)

	if len(attemptTimes) < 4 {
		t.Fatalf("expected at least 4 attempts, got %d", len(attemptTimes))
	}

	delays := []time.Duration{
		attemptTimes[1].Sub(attemptTimes[0]),
		attemptTimes[2].Sub(attemptTimes[1]),
		attemptTimes[3].Sub(attemptTimes[2]),
	}

	// The exact durations vary under load; what matters is monotonic growth.
	if delays[1] <= delays[0] {
		t.Errorf("expected delays to grow, but delay[1] (%v) <= delay[0] (%v)", delays[1], delays[0])
	}
	if delays[2] <= delays[1] {
		t.Errorf("expected delays to grow, but delay[2] (%v) <= delay[1] (%v)", delays[2], delays[1])
	}
}

// TestReconnect_MaxDelayCap tests backoff caps at max delay
func TestReconnect_MaxDelayCap(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := ReconnectConfig{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          200 * time.Millisecond, // Low max for faster test
		BackoffMultiplier: 2.0,
		JitterPercent:     0,
	}

	rm := NewReconnectManager(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	attemptTimes := []time.Time{}

	connectFunc := func(_ context.Context) error {
		attemptTimes = append(attemptTimes, time.Now())
		if len(attemptTimes) >= 5 {
			cancel()
		}
		return errors.New("connection failed")
	}

	_ = rm.Reconnect(ctx, connectFunc)

	if len(attemptTimes) < 5 {
		t.Fatalf("expected at least 5 attempts, got %d", len(attemptTimes))
	}

	// Delays 3 and 4 should both be capped at ~200ms
	delay3 := attemptTimes[3].Sub(attemptTimes[2])
	delay4 := attemptTimes[4].Sub(attemptTimes[3])

	maxAllowed := 300 * time.Millisecond

	if delay3 > maxAllowed {
		t.Errorf("expected delay 3 to be capped at ~200ms, got %v", delay3)
	}

	if delay4 > maxAllowed {
		t.Errorf("expected delay 4 to be capped at ~200ms, got %v", delay4)
	}
}

// TestReconnect_AttemptCounter tests attempt numbers grow and reset
func TestReconnect_AttemptCounter(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := ReconnectConfig{
		InitialDelay:      time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterPercent:     0,
	}

	rm := NewReconnectManager(cfg, logger)

	_, first := rm.nextBackoff()
	_, second := rm.nextBackoff()

	if first != 1 || second != 2 {
		t.Errorf("expected attempt numbers 1, 2, got %d, %d", first, second)
	}

	rm.Reset()

	_, again := rm.nextBackoff()
	if again != 1 {
		t.Errorf("expected attempt number to reset to 1, got %d", again)
	}
}

// TestReconnect_JitterApplication tests jitter keeps delay within bounds
func TestReconnect_JitterApplication(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := ReconnectConfig{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          1 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.2, // 20% jitter
	}

	rm := NewReconnectManager(cfg, logger)

	// Jittered backoff is in [base, base*1.2]
	for i := 0; i < 20; i++ {
		backoff, _ := rm.nextBackoff()
		if backoff < 100*time.Millisecond || backoff > 120*time.Millisecond {
			t.Fatalf("expected jittered backoff in [100ms, 120ms], got %v", backoff)
		}
	}
}

// TestReconnect_ContextCancellation tests graceful shutdown during backoff
func TestReconnect_ContextCancellation(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := ReconnectConfig{
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0,
	}

	rm := NewReconnectManager(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())

	connectFunc := func(_ context.Context) error {
		return errors.New("connection failed")
	}

	done := make(chan error, 1)
	go func() {
		done <- rm.Reconnect(ctx, connectFunc)
	}()

	// Cancel after 100ms (before first retry completes)
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconnection didn't stop after context cancellation")
	}
}

// TestReconnect_ResetOnSuccess tests delay resets after successful connect
func TestReconnect_ResetOnSuccess(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	cfg := ReconnectConfig{
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          1 * time.Second,
		BackoffMultiplier: 2.0,
		JitterPercent:     0,
	}

	rm := NewReconnectManager(cfg, logger)

	// First reconnection: fails a few times then succeeds
	ctx1, cancel1 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel1()

	attempt1 := 0
	connectFunc1 := func(_ context.Context) error {
		attempt1++
		if attempt1 < 3 {
			return errors.New("connection failed")
		}
		return nil // Success on 3rd attempt
	}

	err := rm.Reconnect(ctx1, connectFunc1)
	if err != nil {
		t.Fatalf("expected successful reconnection, got %v", err)
	}

	// Backoff should be back to initial after the success
	if rm.currentBackoff != cfg.InitialDelay {
		t.Errorf("expected backoff reset to %v after success, got %v", cfg.InitialDelay, rm.currentBackoff)
	}
}

// TestReconnectLoop_ResubscribesTokens tests state consistency after reconnect
func TestReconnectLoop_ResubscribesTokens(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mgr := New(testConfig(logger))
	ctx := context.Background()

	// Pre-populate subscriptions
	tokens := []string{"token1", "token2", "token3"}
	mgr.mu.Lock()
	for _, token := range tokens {
		mgr.subscribed[token] = true
	}
	mgr.mu.Unlock()

	// Without a connection resubscribeAll reports an error
	err := mgr.resubscribeAll(ctx)
	if err == nil {
		t.Error("expected resubscribe error without connection")
	}

	// Subscriptions must be maintained either way
	mgr.mu.RLock()
	for _, token := range tokens {
		if !mgr.subscribed[token] {
			t.Errorf("expected token %s to remain subscribed after resubscribeAll", token)
		}
	}
	mgr.mu.RUnlock()
}

// TestReconnectLoop_ConcurrentState tests racing state reads and writes
func TestReconnectLoop_ConcurrentState(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mgr := New(testConfig(logger))

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			mgr.connected.Store(false)
			mgr.connected.Store(true)
		}
		done <- true
	}()

	for i := 0; i < 100; i++ {
		_ = mgr.Connected()
	}

	<-done
}

// TestReconnectLoop_SubscriptionRace tests Subscribe during reconnect state flips
func TestReconnectLoop_SubscriptionRace(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mgr := New(testConfig(logger))
	ctx := context.Background()

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			tokens := []string{"token-" + string(rune('0'+i))}
			_ = mgr.Subscribe(ctx, tokens)
			time.Sleep(5 * time.Millisecond)
		}
		done <- true
	}()

	for i := 0; i < 10; i++ {
		mgr.connected.Store(false)
		time.Sleep(5 * time.Millisecond)
		mgr.connected.Store(true)
	}

	<-done

	mgr.mu.RLock()
	if len(mgr.subscribed) != 10 {
		t.Errorf("expected 10 subscribed tokens, got %d", len(mgr.subscribed))
	}
	mgr.mu.RUnlock()
}
