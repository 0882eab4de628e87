package assistant

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGatedProviderHealth(t *testing.T) {
	prov := &stubProvider{chatFn: func(_ context.Context, _, _ string) (string, error) {
		return "", errors.New("rate limited")
	}}
	g := NewGatedProvider(prov, 2, nil)

	if ok, _ := g.Health(); !ok {
		t.Fatal("Health() before any call should be true")
	}

	if _, err := g.ChatCompletion(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected provider error")
	}
	ok, msg := g.Health()
	if ok {
		t.Fatal("Health() after failure should be false")
	}
	if msg != "rate limited" {
		t.Fatalf("Health() message = %q", msg)
	}

	prov.chatFn = func(_ context.Context, _, _ string) (string, error) { return "ok", nil }
	if _, err := g.ChatCompletion(context.Background(), "s", "u"); err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
	if ok, _ := g.Health(); !ok {
		t.Fatal("Health() should recover after a successful call")
	}
}

func TestGatedProviderCapsInFlightCalls(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	prov := &stubProvider{chatFn: func(ctx context.Context, _, _ string) (string, error) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return "ok", nil
	}}
	g := NewGatedProvider(prov, 1, nil)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = g.ChatCompletion(context.Background(), "s", "u")
			done <- struct{}{}
		}()
	}

	<-entered
	select {
	case <-entered:
		t.Fatal("second call entered the provider while the first held the only permit")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	<-done
}

func TestGatedProviderAcquireHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	prov := &stubProvider{chatFn: func(_ context.Context, _, _ string) (string, error) {
		<-release
		return "ok", nil
	}}
	g := NewGatedProvider(prov, 1, nil)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = g.ChatCompletion(context.Background(), "s", "u")
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.ChatCompletion(ctx, "s", "u"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}
