package middleware

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestChallenges() (*ChallengeService, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := NewChallengeService()
	s.now = clock.Now
	return s, clock
}

func TestChallengeLifecycle(t *testing.T) {
	s, _ := newTestChallenges()

	c, err := s.Issue("1.1.1.1|ua", "shop", "/gateway/shop/cart")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Token) != 32 {
		t.Errorf("token %q should be 32 hex chars", c.Token)
	}

	if _, err := s.Verify(c.Token, "2.2.2.2|ua", true); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("foreign signature: err = %v, want mismatch", err)
	}

	if _, err := s.Verify(c.Token, "1.1.1.1|ua", false); !errors.Is(err, ErrNotHuman) {
		t.Fatalf("missing human flag: err = %v, want ErrNotHuman", err)
	}

	v, err := s.Verify(c.Token, "1.1.1.1|ua", true)
	if err != nil {
		t.Fatalf("valid verify failed: %v", err)
	}
	if v.Challenge.OriginalURL != "/gateway/shop/cart" {
		t.Errorf("OriginalURL = %q", v.Challenge.OriginalURL)
	}
	if !s.IsVerified("1.1.1.1|ua") {
		t.Error("signature should be verified")
	}
	if s.Failures("1.1.1.1|ua") != 0 {
		t.Error("success should clear failures")
	}

	if _, err := s.Verify(c.Token, "1.1.1.1|ua", true); !errors.Is(err, ErrChallengeExpired) {
		t.Errorf("reused token: err = %v, want expired", err)
	}
}

func TestChallengeThreeFailuresBlock(t *testing.T) {
	s, _ := newTestChallenges()
	sig := "9.9.9.9|bot"

	for i := 1; i <= 2; i++ {
		v, err := s.Verify("bogus", sig, true)
		if err == nil || v.Blocked || v.Failures != i {
			t.Fatalf("attempt %d = %+v, %v", i, v, err)
		}
	}

	c, _ := s.Issue(sig, "shop", "")
	v, err := s.Verify(c.Token, sig, false)
	if !v.Blocked || v.Failures != 3 || err == nil {
		t.Fatalf("third failure = %+v, %v; want blocked", v, err)
	}

	v, err = s.Verify(c.Token, sig, true)
	if !errors.Is(err, ErrTooManyFailures) || !v.Blocked {
		t.Errorf("valid attempt after the cap = %+v, %v; want ErrTooManyFailures", v, err)
	}
	if s.IsVerified(sig) {
		t.Error("capped signature must not become verified")
	}
}

func TestChallengeExpiry(t *testing.T) {
	s, clock := newTestChallenges()
	sig := "1.1.1.1|ua"

	c, _ := s.Issue(sig, "shop", "")
	clock.Advance(ChallengeTTL)
	if _, err := s.Verify(c.Token, sig, true); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("err = %v, want expired at TTL", err)
	}
	if s.Failures(sig) != 1 {
		t.Fatalf("failures = %d, want 1", s.Failures(sig))
	}

	s.MarkVerified(sig)
	clock.Advance(VerifiedTTL - time.Second)
	if !s.IsVerified(sig) {
		t.Error("verification should last 20 minutes")
	}
	clock.Advance(time.Second)
	if s.IsVerified(sig) {
		t.Error("verification should lapse at 20 minutes")
	}

	if s.Failures(sig) != 0 {
		t.Error("failures should reset after the window")
	}
}

func TestChallengeSweep(t *testing.T) {
	s, clock := newTestChallenges()
	s.Issue("a", "shop", "")
	s.MarkVerified("b")
	s.Verify("unknown", "c", true)

	clock.Advance(time.Hour)
	if n := s.Sweep(); n != 3 {
		t.Errorf("Sweep removed %d, want 3", n)
	}
}

func TestRenderChallengePage(t *testing.T) {
	rec := httptest.NewRecorder()
	err := RenderChallengePage(rec, ChallengePage{
		TargetID:    "shop",
		Token:       "abc123",
		OriginalURL: "/gateway/shop/search?q=1",
		Error:       UserMessage(ErrNotHuman),
	})
	if err != nil {
		t.Fatal(err)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`action="/gateway/shop/_verify"`,
		`name="token" value="abc123"`,
		`%2Fgateway%2Fshop%2Fsearch%3Fq%3D1`,
		"Please confirm you are not a robot.",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
	if rec.Code != 200 || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("status %d, content type %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(ErrChallengeMismatch); got != "Challenge mismatch. Please retry." {
		t.Errorf("mismatch message = %q", got)
	}
	if got := UserMessage(ErrChallengeExpired); got != "Challenge expired. Please retry." {
		t.Errorf("expired message = %q", got)
	}
}
