package assistant

import (
	"context"
	"sync"
	"time"

	"github.com/classsight/classsight/internal/telemetry"
	"github.com/classsight/classsight/provider"
)

// GatedProvider bounds the number of in-flight model calls and records their
// latency and health. Every provider invocation in the assistant goes through
// one gate, so the cap is global to the process.
type GatedProvider struct {
	inner provider.Provider
	sem   chan struct{}
	tele  *telemetry.Telemetry

	mu      sync.RWMutex
	lastErr error
	called  bool
}

// NewGatedProvider wraps inner with a semaphore of maxInFlight permits. A
// non-positive maxInFlight disables the cap.
func NewGatedProvider(inner provider.Provider, maxInFlight int, tele *telemetry.Telemetry) *GatedProvider {
	var sem chan struct{}
	if maxInFlight > 0 {
		sem = make(chan struct{}, maxInFlight)
	}
	return &GatedProvider{inner: inner, sem: sem, tele: tele}
}

func (g *GatedProvider) acquire(ctx context.Context) error {
	if g.sem == nil {
		return nil
	}
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *GatedProvider) release() {
	if g.sem != nil {
		<-g.sem
	}
}

func (g *GatedProvider) record(op string, start time.Time, err error) {
	if g.tele != nil {
		g.tele.ObserveModelCall(op, time.Since(start))
	}
	g.mu.Lock()
	g.lastErr = err
	g.called = true
	g.mu.Unlock()
}

func (g *GatedProvider) ChatCompletion(ctx context.Context, system, user string) (string, error) {
	if err := g.acquire(ctx); err != nil {
		return "", err
	}
	defer g.release()
	start := time.Now()
	out, err := g.inner.ChatCompletion(ctx, system, user)
	g.record("chat_completion", start, err)
	return out, err
}

func (g *GatedProvider) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()
	start := time.Now()
	out, err := g.inner.CreateEmbedding(ctx, texts)
	g.record("embedding", start, err)
	return out, err
}

// Health reports whether the most recent model call succeeded. Before any call
// has been made the model is assumed reachable.
func (g *GatedProvider) Health() (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.called || g.lastErr == nil {
		return true, ""
	}
	return false, g.lastErr.Error()
}
