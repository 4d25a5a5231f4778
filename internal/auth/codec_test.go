package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testSubject() Subject {
	return Subject{UserID: "u-1", Username: "alice", Email: "alice@example.com"}
}

func mustCodec(t *testing.T, opts ...CodecOption) *Codec {
	t.Helper()
	c, err := NewCodec("test-secret", opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodecRoundTrip(t *testing.T) {
	clock := newFakeClock()
	codec := mustCodec(t, WithCodecClock(clock.Now), WithAccessTTL(15*time.Minute))

	token, exp, err := codec.Issue(testSubject(), KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := clock.t.Add(15 * time.Minute); !exp.Equal(want) {
		t.Fatalf("expiry = %v, want %v", exp, want)
	}

	clock.Advance(15*time.Minute - time.Second)
	got, err := codec.Verify(token)
	if err != nil {
		t.Fatalf("Verify before expiry: %v", err)
	}
	if got != testSubject() {
		t.Fatalf("subject = %+v, want %+v", got, testSubject())
	}

	clock.Advance(time.Second)
	got, err = codec.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at expiry, got %v", err)
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired error should match ErrInvalidToken: %v", err)
	}
	if got != (Subject{}) {
		t.Fatalf("expected zero subject on failure, got %+v", got)
	}
}

func TestCodecKindsDifferOnlyInExpiry(t *testing.T) {
	clock := newFakeClock()
	codec := mustCodec(t, WithCodecClock(clock.Now), WithAccessTTL(time.Minute), WithRefreshTTL(time.Hour))

	access, accessExp, err := codec.Issue(testSubject(), KindAccess)
	if err != nil {
		t.Fatalf("Issue access: %v", err)
	}
	refresh, refreshExp, err := codec.Issue(testSubject(), KindRefresh)
	if err != nil {
		t.Fatalf("Issue refresh: %v", err)
	}
	if refreshExp.Sub(accessExp) != 59*time.Minute {
		t.Fatalf("unexpected expiry gap %v", refreshExp.Sub(accessExp))
	}

	clock.Advance(2 * time.Minute)
	if _, err := codec.Verify(access); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("access should be expired: %v", err)
	}
	sub, err := codec.Verify(refresh)
	if err != nil {
		t.Fatalf("refresh should still verify: %v", err)
	}
	if sub != testSubject() {
		t.Fatalf("refresh subject = %+v", sub)
	}
	if codec.TTL(KindAccess) != time.Minute || codec.TTL(KindRefresh) != time.Hour {
		t.Fatalf("unexpected TTLs %v / %v", codec.TTL(KindAccess), codec.TTL(KindRefresh))
	}
}

func TestCodecTamperingFailsClosed(t *testing.T) {
	codec := mustCodec(t)
	token, _, err := codec.Issue(testSubject(), KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	for i := 0; i < len(token); i++ {
		// The last character of a raw base64 segment may carry only padding bits.
		if token[i] == '.' || i == len(token)-1 || token[i+1] == '.' {
			continue
		}
		repl := byte('A')
		if token[i] == 'A' {
			repl = 'B'
		}
		tampered := token[:i] + string(repl) + token[i+1:]
		sub, err := codec.Verify(tampered)
		if !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("byte %d: expected ErrInvalidToken, got %v", i, err)
		}
		if sub != (Subject{}) {
			t.Fatalf("byte %d: partial claims leaked: %+v", i, sub)
		}
	}

	sig := strings.LastIndexByte(token, '.') + 1
	repl := byte('A')
	if token[sig] == 'A' {
		repl = 'B'
	}
	tampered := token[:sig] + string(repl) + token[sig+1:]
	if _, err := codec.Verify(tampered); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature for altered signature, got %v", err)
	}
}

func TestCodecRejectsForeignTokens(t *testing.T) {
	codec := mustCodec(t)
	other, err := NewCodec("other-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	token, _, err := other.Issue(testSubject(), KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrTokenSignature) {
		t.Fatalf("expected ErrTokenSignature for foreign secret, got %v", err)
	}

	foreignIssuer := mustCodec(t, WithCodecIssuer("someone-else"))
	token, _, err = foreignIssuer.Issue(testSubject(), KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection of foreign issuer, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, SessionClaims{Username: "alice"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := codec.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection of alg=none, got %v", err)
	}

	for _, raw := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := codec.Verify(raw); !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("Verify(%q): expected ErrTokenMalformed, got %v", raw, err)
		}
	}
}

func TestCodecRequiresExpiry(t *testing.T) {
	codec := mustCodec(t)
	claims := SessionClaims{Username: "alice", RegisteredClaims: jwt.RegisteredClaims{Issuer: defaultIssuer}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection of token without exp, got %v", err)
	}
}

func TestNewCodecValidation(t *testing.T) {
	if _, err := NewCodec("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewCodec("s", WithAccessTTL(-time.Second)); err == nil {
		t.Fatal("expected error for negative ttl")
	}
	codec := mustCodec(t)
	if codec.TTL(KindAccess) != time.Hour || codec.TTL(KindRefresh) != 7*24*time.Hour {
		t.Fatalf("unexpected default TTLs")
	}
	if _, _, err := codec.Issue(Subject{Email: "x@example.com"}, KindAccess); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for anonymous subject, got %v", err)
	}
}
