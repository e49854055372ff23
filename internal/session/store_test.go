package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := tokenClaims{
		Email: sub + "@example.ac.jp",
		Name:  "山田 太郎",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestOpenWithoutFileHasNoSession(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state", "session.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Token(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Token() error = %v, want ErrNoSession", err)
	}
	if store.LoggedIn() {
		t.Fatalf("expected logged out")
	}
}

func TestSaveThenReopenKeepsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	token := signToken(t, "google-sub-1", time.Now().Add(time.Hour))
	if err := store.Save(token); err != nil {
		t.Fatalf("save: %v", err)
	}
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if got != token {
		t.Fatalf("token mismatch after reopen")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("session file perm = %o, want 600", perm)
	}
	claims, err := reopened.Claims()
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	if claims.Subject != "google-sub-1" || claims.Name != "山田 太郎" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestExpiredTokenIsClearedCentrally(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := Open(path, WithClock(func() time.Time { return now }), WithLeeway(0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var changes []Change
	store.Subscribe(func(c Change) { changes = append(changes, c) })
	if err := store.Save(signToken(t, "sub", now.Add(-time.Minute))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Token(); !errors.Is(err, ErrExpired) {
		t.Fatalf("Token() error = %v, want ErrExpired", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected session file removed, stat err = %v", err)
	}
	if _, err := store.Token(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("second Token() error = %v, want ErrNoSession", err)
	}
	if len(changes) != 2 || changes[0].Kind != ChangeLogin || changes[1].Kind != ChangeInvalidated {
		t.Fatalf("unexpected change events %+v", changes)
	}
}

func TestLeewayExpiresTokensAboutToLapse(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store, err := Open(filepath.Join(t.TempDir(), "session.json"),
		WithClock(func() time.Time { return now }),
		WithLeeway(time.Minute))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(signToken(t, "sub", now.Add(30*time.Second))); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := store.Token(); !errors.Is(err, ErrExpired) {
		t.Fatalf("Token() error = %v, want ErrExpired", err)
	}
}

func TestOpaqueTokenHasNoExpiry(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save("opaque-token"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Token()
	if err != nil || got != "opaque-token" {
		t.Fatalf("Token() = %q, %v", got, err)
	}
	if _, err := store.Claims(); err == nil {
		t.Fatalf("expected claims parse error for opaque token")
	}
}

func TestClearNotifiesSubscribers(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var kinds []ChangeKind
	unsubscribe := store.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })
	if err := store.Save("token"); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear("unauthorized"); err != nil {
		t.Fatal(err)
	}
	unsubscribe()
	if err := store.Clear(""); err != nil {
		t.Fatal(err)
	}
	want := []ChangeKind{ChangeLogin, ChangeInvalidated}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestExternalLogoutIsObserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Save("token"); err != nil {
		t.Fatal(err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	var seen []ChangeKind
	first.Subscribe(func(c Change) { seen = append(seen, c.Kind) })
	if err := second.Clear(""); err != nil {
		t.Fatal(err)
	}
	if _, err := first.Token(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Token() error = %v, want ErrNoSession", err)
	}
	if len(seen) != 1 || seen[0] != ChangeExternal {
		t.Fatalf("expected one external change, got %v", seen)
	}
}

func TestClearIfTokenKeepsNewerLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Save("old-token"); err != nil {
		t.Fatal(err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Save("new-token"); err != nil {
		t.Fatal(err)
	}
	// Force a distinct mtime so the first store notices the rewrite.
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}

	cleared, err := first.ClearIfToken("old-token", "unauthorized")
	if err != nil {
		t.Fatalf("ClearIfToken: %v", err)
	}
	if cleared {
		t.Fatalf("ClearIfToken removed a token saved by another process")
	}
	if got, err := first.Token(); err != nil || got != "new-token" {
		t.Fatalf("Token() = %q, %v, want new-token", got, err)
	}

	cleared, err = first.ClearIfToken("new-token", "unauthorized")
	if err != nil || !cleared {
		t.Fatalf("ClearIfToken(current) = %v, %v, want true", cleared, err)
	}
	if first.LoggedIn() {
		t.Fatalf("expected session to be cleared")
	}
}
