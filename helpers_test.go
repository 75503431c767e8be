package sessionauth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reviewpulse/sessionauth/session"
	"golang.org/x/oauth2"
)

const testCode = "246810"

// fakeProvider is an in-memory IdentityProvider whose behavior each test
// tunes through its fields.
type fakeProvider struct {
	mu sync.Mutex

	challenge bool
	medium    DeliveryMedium
	loginErr  error
	loginGate chan struct{}

	confirmErr  error
	confirmHook func(code string)
	resendErr   error

	attrs     Attributes
	attrsErr  error
	attrsGate chan struct{}

	sessionErr error
	live       bool
	pending    bool

	tokenValue string
	tokenErr   error
	tokenGate  chan struct{}
	tokenPanic bool

	loginCalls   int
	confirmCalls int
	confirmCodes []string
	resendCalls  int
	signOuts     int
	attrsCalls   atomic.Int32
	tokenCalls   atomic.Int32
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		attrs:      Attributes{Email: "alice@brand.test", Role: "admin", TenantID: "brand-1"},
		tokenValue: "access-token-1",
	}
}

func (p *fakeProvider) Login(ctx context.Context, email, password string) (LoginOutcome, error) {
	p.mu.Lock()
	p.loginCalls++
	gate := p.loginGate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return LoginOutcome{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loginErr != nil {
		return LoginOutcome{}, p.loginErr
	}
	if p.challenge {
		p.pending = true
		return LoginOutcome{ChallengeRequired: true, Medium: p.medium}, nil
	}
	p.live = true
	return LoginOutcome{}, nil
}

func (p *fakeProvider) ConfirmChallenge(_ context.Context, code string) error {
	p.mu.Lock()
	p.confirmCalls++
	p.confirmCodes = append(p.confirmCodes, code)
	hook := p.confirmHook
	p.mu.Unlock()

	if hook != nil {
		hook(code)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.confirmErr != nil {
		return p.confirmErr
	}
	if code != testCode {
		return ErrInvalidOrExpiredCode
	}
	p.pending = false
	p.live = true
	return nil
}

func (p *fakeProvider) ResendChallenge(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resendCalls++
	return p.resendErr
}

func (p *fakeProvider) CurrentSession(context.Context) (ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return ProviderSession{}, p.sessionErr
	}
	if !p.live {
		return ProviderSession{}, ErrNoActiveSession
	}
	return ProviderSession{Subject: "sub-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (p *fakeProvider) Attributes(ctx context.Context) (Attributes, error) {
	p.attrsCalls.Add(1)
	p.mu.Lock()
	gate := p.attrsGate
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Attributes{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attrsErr != nil {
		return Attributes{}, p.attrsErr
	}
	return p.attrs, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signOuts++
	p.live = false
	p.pending = false
	return nil
}

func (p *fakeProvider) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	p.tokenCalls.Add(1)

	p.mu.Lock()
	gate := p.tokenGate
	panics := p.tokenPanic
	p.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if panics {
		panic("token backend exploded")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokenErr != nil {
		return nil, p.tokenErr
	}
	if !p.live {
		return nil, ErrNoActiveSession
	}
	return &oauth2.Token{
		AccessToken: p.tokenValue,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) counts() (login, confirm, resend, signOut int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginCalls, p.confirmCalls, p.resendCalls, p.signOuts
}

// manualTicker only ticks when a test sends on it.
type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

type manualClock struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	t := &manualTicker{ch: make(chan time.Time)}
	c.mu.Lock()
	c.tickers = append(c.tickers, t)
	c.mu.Unlock()
	return t
}

func (c *manualClock) latest(t *testing.T) *manualTicker {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tickers) == 0 {
		t.Fatal("no ticker started")
	}
	return c.tickers[len(c.tickers)-1]
}

// tick delivers n ticks to the newest ticker.
func (c *manualClock) tick(t *testing.T, n int) {
	t.Helper()
	tk := c.latest(t)
	for i := 0; i < n; i++ {
		select {
		case tk.ch <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("ticker not consumed after %d ticks", i)
		}
	}
}

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Navigate(_ context.Context, path string) {
	n.mu.Lock()
	n.paths = append(n.paths, path)
	n.mu.Unlock()
}

func (n *recordingNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

type testHarness struct {
	engine    *Engine
	provider  *fakeProvider
	backend   *session.MemoryBackend
	store     *session.Store
	clock     *manualClock
	navigator *recordingNavigator
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Challenge.ResendCooldown = 3 * time.Second
	cfg.Challenge.TickInterval = time.Second
	cfg.Challenge.FailureFlash = 20 * time.Millisecond
	return cfg
}

func newHarness(t *testing.T, p *fakeProvider) *testHarness {
	t.Helper()
	return newHarnessWithConfig(t, p, testConfig())
}

func newHarnessWithConfig(t *testing.T, p *fakeProvider, cfg Config) *testHarness {
	t.Helper()
	if p == nil {
		p = newFakeProvider()
	}

	backend := session.NewMemoryBackend()
	clock := &manualClock{}
	nav := &recordingNavigator{}

	engine, err := New().
		WithConfig(cfg).
		WithIdentityProvider(p).
		WithStore(backend).
		WithTicker(clock.NewTicker).
		WithNavigator(nav).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testHarness{
		engine:    engine,
		provider:  p,
		backend:   backend,
		store:     session.NewStore(backend, cfg.Storage.SnapshotKey, cfg.Storage.PendingKey),
		clock:     clock,
		navigator: nav,
	}
}

// hydrated returns a harness whose engine has settled as Anonymous.
func hydrated(t *testing.T, p *fakeProvider) *testHarness {
	t.Helper()
	h := newHarness(t, p)
	if _, _, err := h.engine.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	return h
}

// pendingChallenge logs in against a provider that demands a code.
func pendingChallenge(t *testing.T, h *testHarness) *Challenge {
	t.Helper()
	h.provider.set(func(p *fakeProvider) { p.challenge = true; p.medium = MediumSMS })
	res, err := h.engine.Submit(context.Background(), "alice@brand.test", "pw")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.RequiresMFA || res.Challenge == nil {
		t.Fatalf("expected challenge, got %+v", res)
	}
	return res.Challenge
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
