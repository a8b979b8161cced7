package credentials_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crosspost/internal/credentials"
	"crosspost/internal/services"
	"crosspost/internal/testsupport"
)

func TestStoreUpsertsAndGets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	creds, err := credentials.NewStore(store.DB(), nil)
	if err != nil {
		t.Fatalf("new credentials store: %v", err)
	}

	cred := &credentials.Credential{
		UserID:       7,
		Provider:     "YouTube",
		AccessToken:  "token-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}
	if err := creds.Store(ctx, cred); err != nil {
		t.Fatalf("store credential: %v", err)
	}

	got, err := creds.Get(ctx, 7, "youtube")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.AccessToken != "token-1" || got.Provider != "youtube" {
		t.Fatalf("unexpected credential %+v", got)
	}

	cred.AccessToken = "token-2"
	if err := creds.Store(ctx, cred); err != nil {
		t.Fatalf("re-store credential: %v", err)
	}
	got, err = creds.Get(ctx, 7, "youtube")
	if err != nil {
		t.Fatalf("get after upsert: %v", err)
	}
	if got.AccessToken != "token-2" {
		t.Fatalf("expected upsert to replace token, got %q", got.AccessToken)
	}
}

func TestGetMissingCredential(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	creds, err := credentials.NewStore(store.DB(), nil)
	if err != nil {
		t.Fatalf("new credentials store: %v", err)
	}
	_, err = creds.Get(context.Background(), 99, "tiktok")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetUsableReturnsValidTokenWithoutRefresh(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	refreshCalls := 0
	refresher := credentials.RefresherFunc(func(context.Context, *credentials.Credential) (string, time.Time, error) {
		refreshCalls++
		return "unexpected", time.Now().Add(time.Hour), nil
	})
	creds, err := credentials.NewStore(store.DB(), map[string]credentials.Refresher{"youtube": refresher})
	if err != nil {
		t.Fatalf("new credentials store: %v", err)
	}

	if err := creds.Store(ctx, &credentials.Credential{
		UserID:      1,
		Provider:    "youtube",
		AccessToken: "still-good",
		Expiry:      time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("store credential: %v", err)
	}

	got, err := creds.GetUsable(ctx, 1, "youtube")
	if err != nil {
		t.Fatalf("get usable: %v", err)
	}
	if got.AccessToken != "still-good" {
		t.Fatalf("expected stored token, got %q", got.AccessToken)
	}
	if refreshCalls != 0 {
		t.Fatalf("expected no refresh, got %d calls", refreshCalls)
	}
}

func TestGetUsableRefreshesExpiredToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	refresher := credentials.RefresherFunc(func(_ context.Context, cred *credentials.Credential) (string, time.Time, error) {
		if cred.RefreshToken != "refresh-1" {
			t.Fatalf("unexpected refresh token %q", cred.RefreshToken)
		}
		return "fresh-token", time.Now().Add(time.Hour), nil
	})
	creds, err := credentials.NewStore(store.DB(), map[string]credentials.Refresher{"youtube": refresher})
	if err != nil {
		t.Fatalf("new credentials store: %v", err)
	}

	if err := creds.Store(ctx, &credentials.Credential{
		UserID:       1,
		Provider:     "youtube",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("store credential: %v", err)
	}

	got, err := creds.GetUsable(ctx, 1, "youtube")
	if err != nil {
		t.Fatalf("get usable: %v", err)
	}
	if got.AccessToken != "fresh-token" {
		t.Fatalf("expected refreshed token, got %q", got.AccessToken)
	}

	// The refreshed token must be persisted, not just returned.
	stored, err := creds.Get(ctx, 1, "youtube")
	if err != nil {
		t.Fatalf("re-read credential: %v", err)
	}
	if stored.AccessToken != "fresh-token" {
		t.Fatalf("expected persisted refresh, got %q", stored.AccessToken)
	}
}

func TestConcurrentGetUsableRefreshesOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	var refreshCalls atomic.Int64
	release := make(chan struct{})
	refresher := credentials.RefresherFunc(func(context.Context, *credentials.Credential) (string, time.Time, error) {
		refreshCalls.Add(1)
		<-release
		return "shared-token", time.Now().Add(time.Hour), nil
	})
	creds, err := credentials.NewStore(store.DB(), map[string]credentials.Refresher{"youtube": refresher})
	if err != nil {
		t.Fatalf("new credentials store: %v", err)
	}

	if err := creds.Store(ctx, &credentials.Credential{
		UserID:       1,
		Provider:     "youtube",
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("store credential: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := creds.GetUsable(ctx, 1, "youtube")
			if err != nil {
				errs[i] = err
				return
			}
			tokens[i] = cred.AccessToken
		}()
	}

	// Let the callers pile up behind the in-flight refresh before
	// releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "shared-token" {
			t.Fatalf("caller %d got token %q", i, tokens[i])
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Fatalf("expected exactly one refresh, got %d", got)
	}
}

func TestGetUsableWithoutRefreshToken(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	creds, err := credentials.NewStore(store.DB(), map[string]credentials.Refresher{
		"youtube": credentials.RefresherFunc(func(context.Context, *credentials.Credential) (string, time.Time, error) {
			return "", time.Time{}, errors.New("should not be called")
		}),
	})
	if err != nil {
		t.Fatalf("new credentials store: %v", err)
	}

	if err := creds.Store(ctx, &credentials.Credential{
		UserID:      1,
		Provider:    "youtube",
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("store credential: %v", err)
	}

	_, err = creds.GetUsable(ctx, 1, "youtube")
	if !errors.Is(err, services.ErrCredentialExpired) {
		t.Fatalf("expected credential expired, got %v", err)
	}
}
