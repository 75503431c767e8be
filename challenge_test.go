package sessionauth

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/reviewpulse/sessionauth/session"
	"go.uber.org/goleak"
)

func typeCode(t *testing.T, ch *Challenge, code string) []error {
	t.Helper()
	errs := make([]error, 0, len(code))
	for i, r := range code {
		_, err := ch.Enter(context.Background(), i, string(r))
		errs = append(errs, err)
	}
	return errs
}

func TestEnterVerifiesExactlyOnceAfterLastDigit(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	errs := typeCode(t, ch, testCode)
	for i, err := range errs[:5] {
		if !errors.Is(err, ErrCodeIncomplete) {
			t.Fatalf("entry %d: expected ErrCodeIncomplete, got %v", i, err)
		}
	}
	if errs[5] != nil {
		t.Fatalf("last entry should verify successfully, got %v", errs[5])
	}

	if _, confirm, _, _ := h.provider.counts(); confirm != 1 {
		t.Fatalf("expected exactly one verification, got %d", confirm)
	}
	if _, ok := h.engine.State().(Authenticated); !ok {
		t.Fatalf("expected Authenticated, got %v", h.engine.State())
	}
	if h.engine.Challenge() != nil {
		t.Fatal("challenge must be released after success")
	}

	// A repeated fill event after success must not verify again.
	if _, err := ch.Enter(context.Background(), 5, "0"); !errors.Is(err, ErrChallengeDiscarded) {
		t.Fatalf("expected ErrChallengeDiscarded, got %v", err)
	}
	if _, confirm, _, _ := h.provider.counts(); confirm != 1 {
		t.Fatalf("expected still one verification, got %d", confirm)
	}
}

func TestVerifySuccessPersistsAndClearsMarker(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	id, err := ch.Paste(context.Background(), testCode)
	if err != nil {
		t.Fatalf("paste: %v", err)
	}
	snap, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if snap.Email != id.Email() || snap.TenantID != id.TenantID() {
		t.Fatalf("snapshot %+v does not match %v", snap, id)
	}
	if _, ok := h.engine.PendingEmail(context.Background()); ok {
		t.Fatal("pending marker must be cleared after success")
	}
	if !h.clock.latest(t).stopped.Load() {
		t.Fatal("cooldown ticker must stop after success")
	}
}

func TestFillEventFiringTwiceDuringVerify(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	var duplicate error
	h.provider.set(func(p *fakeProvider) {
		p.confirmHook = func(string) {
			_, duplicate = ch.Enter(context.Background(), 5, "0")
		}
	})

	if _, err := ch.Paste(context.Background(), testCode); err != nil {
		t.Fatalf("paste: %v", err)
	}
	if !errors.Is(duplicate, ErrVerifyInFlight) {
		t.Fatalf("expected ErrVerifyInFlight for the duplicate fill, got %v", duplicate)
	}
	if _, confirm, _, _ := h.provider.counts(); confirm != 1 {
		t.Fatalf("expected exactly one verification, got %d", confirm)
	}
}

func TestPasteMatchesTyping(t *testing.T) {
	type observed struct {
		slots []string
		focus int
	}

	run := func(t *testing.T, fill func(ch *Challenge)) (observed, int) {
		h := hydrated(t, nil)
		ch := pendingChallenge(t, h)
		var seen observed
		h.provider.set(func(p *fakeProvider) {
			p.confirmHook = func(string) {
				seen = observed{slots: ch.Slots(), focus: ch.Focus()}
			}
		})
		fill(ch)
		_, confirm, _, _ := h.provider.counts()
		return seen, confirm
	}

	typed, typedCalls := run(t, func(ch *Challenge) { typeCode(t, ch, testCode) })
	pasted, pastedCalls := run(t, func(ch *Challenge) {
		if _, err := ch.Paste(context.Background(), " 24-68 10 "); err != nil {
			t.Fatalf("paste: %v", err)
		}
	})

	if typedCalls != 1 || pastedCalls != 1 {
		t.Fatalf("expected one verification each, got typed=%d pasted=%d", typedCalls, pastedCalls)
	}
	if !reflect.DeepEqual(typed, pasted) {
		t.Fatalf("typed %+v differs from pasted %+v", typed, pasted)
	}
	if typed.focus != 5 {
		t.Fatalf("expected focus on last slot, got %d", typed.focus)
	}
}

func TestPasteTruncatesAndPartialFill(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	if _, err := ch.Paste(context.Background(), "12"); !errors.Is(err, ErrCodeIncomplete) {
		t.Fatalf("expected ErrCodeIncomplete, got %v", err)
	}
	if got := ch.Slots(); !reflect.DeepEqual(got, []string{"1", "2", "", "", "", ""}) {
		t.Fatalf("unexpected slots %v", got)
	}
	if ch.Focus() != 1 {
		t.Fatalf("expected focus on last filled slot, got %d", ch.Focus())
	}
	if _, err := ch.Paste(context.Background(), "abc"); !errors.Is(err, ErrCodeIncomplete) {
		t.Fatalf("expected ErrCodeIncomplete for digit-free paste, got %v", err)
	}

	if _, err := ch.Paste(context.Background(), testCode+"999"); err != nil {
		t.Fatalf("expected overlong paste to be truncated and verified, got %v", err)
	}
	h.provider.mu.Lock()
	codes := append([]string(nil), h.provider.confirmCodes...)
	h.provider.mu.Unlock()
	if !reflect.DeepEqual(codes, []string{testCode}) {
		t.Fatalf("unexpected verified codes %v", codes)
	}
}

func TestEnterRejectsNonDigits(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	for _, v := range []string{"a", "12", " ", "٣", "-"} {
		if _, err := ch.Enter(context.Background(), 0, v); !errors.Is(err, ErrCodeIncomplete) {
			t.Fatalf("Enter(%q): expected ErrCodeIncomplete, got %v", v, err)
		}
	}
	if got := ch.Slots()[0]; got != "" {
		t.Fatalf("slot must be unchanged, got %q", got)
	}
	if ch.Focus() != 0 {
		t.Fatalf("focus must not move, got %d", ch.Focus())
	}
	if _, err := ch.Enter(context.Background(), 9, "1"); !errors.Is(err, ErrCodeIncomplete) {
		t.Fatalf("out of range index must be ignored, got %v", err)
	}
}

func TestFocusMovement(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)
	ctx := context.Background()

	_, _ = ch.Enter(ctx, 0, "1")
	if ch.Focus() != 1 {
		t.Fatalf("expected focus 1, got %d", ch.Focus())
	}
	_, _ = ch.Enter(ctx, 2, "3")
	if ch.Focus() != 3 {
		t.Fatalf("expected focus to skip to next empty slot 3, got %d", ch.Focus())
	}

	ch.Backspace(3) // empty: move back
	if ch.Focus() != 2 {
		t.Fatalf("expected focus 2, got %d", ch.Focus())
	}
	ch.Backspace(2) // filled: clear in place
	if ch.Focus() != 2 || ch.Slots()[2] != "" {
		t.Fatalf("expected slot 2 cleared with focus kept, got focus %d slots %v", ch.Focus(), ch.Slots())
	}
	ch.Backspace(1)
	ch.Backspace(0)
	ch.Backspace(0)
	if ch.Focus() != 0 {
		t.Fatalf("focus must not go below 0, got %d", ch.Focus())
	}

	_, _ = ch.Enter(ctx, 1, "5")
	if ch.Focus() != 2 {
		t.Fatalf("expected focus 2, got %d", ch.Focus())
	}
	_, _ = ch.Enter(ctx, 1, "")
	if ch.Slots()[1] != "" || ch.Focus() != 1 {
		t.Fatalf("empty value must clear slot, got %v focus %d", ch.Slots(), ch.Focus())
	}
}

func TestWrongCodeClearsSlotsKeepsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Challenge.FailureFlash = 300 * time.Millisecond
	h := newHarnessWithConfig(t, nil, cfg)
	if _, _, err := h.engine.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	ch := pendingChallenge(t, h)

	h.clock.tick(t, 1)
	waitFor(t, "cooldown to tick", func() bool { return ch.Cooldown() == 2*time.Second })

	_, err := ch.Paste(context.Background(), "111111")
	if !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}
	if got := ch.Slots(); !reflect.DeepEqual(got, []string{"", "", "", "", "", ""}) {
		t.Fatalf("expected all slots cleared, got %v", got)
	}
	if ch.Focus() != 0 {
		t.Fatalf("expected focus 0, got %d", ch.Focus())
	}
	if ch.Cooldown() != 2*time.Second {
		t.Fatalf("cooldown must be unchanged, got %v", ch.Cooldown())
	}
	if !ch.Failed() {
		t.Fatal("expected the failure flag to be set")
	}
	waitFor(t, "failure flag to clear", func() bool { return !ch.Failed() })

	failed, ok := h.engine.State().(ChallengeFailed)
	if !ok || !errors.Is(failed.Reason, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ChallengeFailed, got %v", h.engine.State())
	}

	// The attempt stays valid: the right code still works.
	if _, err := ch.Paste(context.Background(), testCode); err != nil {
		t.Fatalf("retry with right code: %v", err)
	}
	if _, ok := h.engine.State().(Authenticated); !ok {
		t.Fatalf("expected Authenticated after retry, got %v", h.engine.State())
	}
}

func TestVerifyNetworkFailureAllowsManualRetry(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)
	h.provider.set(func(p *fakeProvider) { p.confirmErr = errors.New("socket closed") })

	if _, err := ch.Paste(context.Background(), testCode); !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
	if _, err := ch.Verify(context.Background()); !errors.Is(err, ErrCodeIncomplete) {
		t.Fatalf("slots were cleared, expected ErrCodeIncomplete, got %v", err)
	}

	h.provider.set(func(p *fakeProvider) { p.confirmErr = nil })
	typeCode(t, ch, testCode)
	if _, ok := h.engine.State().(Authenticated); !ok {
		t.Fatalf("expected Authenticated, got %v", h.engine.State())
	}
}

func TestResendCooldown(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	if err := ch.Resend(context.Background()); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("expected ErrResendCooldown, got %v", err)
	}
	if _, _, resend, _ := h.provider.counts(); resend != 0 {
		t.Fatalf("resend must not reach provider during cooldown, got %d", resend)
	}

	h.clock.tick(t, 3)
	waitFor(t, "cooldown to finish", func() bool { return ch.Cooldown() == 0 })

	if err := ch.Resend(context.Background()); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if ch.Cooldown() != 3*time.Second {
		t.Fatalf("expected cooldown reset, got %v", ch.Cooldown())
	}
	if _, _, resend, _ := h.provider.counts(); resend != 1 {
		t.Fatalf("expected one provider resend, got %d", resend)
	}
	if err := ch.Resend(context.Background()); !errors.Is(err, ErrResendCooldown) {
		t.Fatalf("expected ErrResendCooldown right after resend, got %v", err)
	}
}

func TestResendFailureKeepsCooldownReset(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)
	h.provider.set(func(p *fakeProvider) { p.resendErr = ErrNetworkFailure })

	h.clock.tick(t, 3)
	waitFor(t, "cooldown to finish", func() bool { return ch.Cooldown() == 0 })

	if err := ch.Resend(context.Background()); !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
	if ch.Cooldown() != 3*time.Second {
		t.Fatalf("cooldown must stay reset after a failed resend, got %v", ch.Cooldown())
	}
}

func TestResendAfterFailureReturnsToPending(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	if _, err := ch.Paste(context.Background(), "000000"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}
	h.clock.tick(t, 3)
	waitFor(t, "cooldown to finish", func() bool { return ch.Cooldown() == 0 })
	if err := ch.Resend(context.Background()); err != nil {
		t.Fatalf("resend: %v", err)
	}
	if _, ok := h.engine.State().(ChallengePending); !ok {
		t.Fatalf("expected ChallengePending, got %v", h.engine.State())
	}
}

func TestVerifyResultAfterDiscardIsIgnored(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	h.provider.set(func(p *fakeProvider) {
		p.confirmHook = func(string) { ch.Close() }
	})

	if _, err := ch.Paste(context.Background(), testCode); !errors.Is(err, ErrChallengeDiscarded) {
		t.Fatalf("expected ErrChallengeDiscarded, got %v", err)
	}
	if _, ok := h.engine.State().(Anonymous); !ok {
		t.Fatalf("expected Anonymous after abandon, got %v", h.engine.State())
	}
	if _, ok := h.engine.Identity(); ok {
		t.Fatal("late verify result must not authenticate")
	}
	if _, err := h.store.Load(context.Background()); err == nil {
		t.Fatal("late verify result must not persist")
	}
	if _, _, _, signOuts := h.provider.counts(); signOuts != 1 {
		t.Fatalf("the accepted code's session must be signed out, got %d sign-outs", signOuts)
	}
	if _, err := h.provider.CurrentSession(context.Background()); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("no provider session may survive a discarded challenge, got %v", err)
	}
}

func TestVerifyResultAfterLogoutIsIgnored(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	h.provider.set(func(p *fakeProvider) {
		p.confirmHook = func(string) { h.engine.Logout(context.Background()) }
	})

	if _, err := ch.Paste(context.Background(), testCode); !errors.Is(err, ErrChallengeDiscarded) {
		t.Fatalf("expected ErrChallengeDiscarded, got %v", err)
	}
	if _, ok := h.engine.State().(Anonymous); !ok {
		t.Fatalf("expected Anonymous, got %v", h.engine.State())
	}
}

func TestCloseAbandonsChallenge(t *testing.T) {
	h := hydrated(t, nil)
	ch := pendingChallenge(t, h)

	ch.Close()
	ch.Close()

	if _, ok := h.engine.State().(Anonymous); !ok {
		t.Fatalf("expected Anonymous, got %v", h.engine.State())
	}
	if _, ok := h.engine.PendingEmail(context.Background()); ok {
		t.Fatal("pending marker must be cleared on abandon")
	}
	if err := ch.Resend(context.Background()); !errors.Is(err, ErrChallengeDiscarded) {
		t.Fatalf("expected ErrChallengeDiscarded, got %v", err)
	}
	if !h.clock.latest(t).stopped.Load() {
		t.Fatal("ticker must be stopped")
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricChallengeAbandoned]; got != 1 {
		t.Fatalf("expected one abandon, got %d", got)
	}
}

func TestChallengeTeardownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newFakeProvider()
	p.challenge = true
	engine, err := New().
		WithConfig(testConfig()).
		WithIdentityProvider(p).
		WithStore(session.NewMemoryBackend()).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, _, err := engine.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	res, err := engine.Submit(context.Background(), "alice@brand.test", "pw")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := res.Challenge.Paste(context.Background(), "999999"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected failure flash to be armed, got %v", err)
	}
	res.Challenge.Close()

	res, err = engine.Submit(context.Background(), "alice@brand.test", "pw")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	engine.Logout(context.Background())
	if !res.Challenge.Discarded() {
		t.Fatal("logout must discard the challenge")
	}
	engine.Close()
}
