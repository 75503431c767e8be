package sessionauth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Challenge is the one-time code entry for a pending login.
//
// It holds the code slots, the focus index, the resend cooldown, and the
// transient failure flag. Verification starts by itself the moment every
// slot is filled, and at most one verification runs at a time. A Challenge
// ends on success, on Close, on a new login, or on sign-out; every method
// of an ended Challenge returns ErrChallengeDiscarded.
type Challenge struct {
	engine *Engine
	email  string
	medium DeliveryMedium
	cfg    ChallengeConfig

	mu        sync.Mutex
	slots     []string
	focus     int
	verifying bool
	failed    bool
	cooldown  int
	discarded bool

	cancelTick context.CancelFunc
	flash      *time.Timer
	wg         sync.WaitGroup
}

func newChallenge(e *Engine, email string, medium DeliveryMedium) *Challenge {
	return &Challenge{
		engine: e,
		email:  email,
		medium: medium,
		cfg:    e.config.Challenge,
		slots:  make([]string, e.config.Challenge.CodeLength),
	}
}

// Email returns the address the login attempt is for.
func (c *Challenge) Email() string { return c.email }

// Medium returns where the code was delivered.
func (c *Challenge) Medium() DeliveryMedium { return c.medium }

// Slots returns a copy of the code slots. Empty slots are "".
func (c *Challenge) Slots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.slots...)
}

// Code returns the slots joined together.
func (c *Challenge) Code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.slots, "")
}

// Focus returns the index of the focused slot.
func (c *Challenge) Focus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focus
}

// Verifying reports whether a verification is in flight.
func (c *Challenge) Verifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verifying
}

// Failed reports whether the last code was rejected within the failure
// flash window.
func (c *Challenge) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

// Cooldown returns the time left before Resend is allowed.
func (c *Challenge) Cooldown() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.cooldown) * c.cfg.TickInterval
}

// Discarded reports whether the challenge has ended.
func (c *Challenge) Discarded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discarded
}

// Enter writes value into slot index. Only a single ASCII digit is
// accepted; other input leaves the slot unchanged. An empty value clears the
// slot. Focus moves to the next empty slot.
//
// When the entry completes the code, Enter verifies it and returns the
// result. Otherwise it returns ErrCodeIncomplete.
func (c *Challenge) Enter(ctx context.Context, index int, value string) (Identity, error) {
	c.mu.Lock()
	if err := c.editableLocked(); err != nil {
		c.mu.Unlock()
		return Identity{}, err
	}
	if index < 0 || index >= len(c.slots) {
		c.mu.Unlock()
		return Identity{}, ErrCodeIncomplete
	}
	if value == "" {
		c.slots[index] = ""
		c.focus = index
		c.mu.Unlock()
		return Identity{}, ErrCodeIncomplete
	}
	if !isDigit(value) {
		c.mu.Unlock()
		return Identity{}, ErrCodeIncomplete
	}

	c.slots[index] = value
	c.focus = c.nextFocusLocked(index)

	code, err := c.claimLocked()
	c.mu.Unlock()
	if err != nil {
		return Identity{}, err
	}
	return c.verify(ctx, code)
}

// Backspace clears slot index, or moves focus back one slot when it is
// already empty.
func (c *Challenge) Backspace(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editableLocked() != nil || index < 0 || index >= len(c.slots) {
		return
	}
	if c.slots[index] != "" {
		c.slots[index] = ""
		c.focus = index
		return
	}
	if index > 0 {
		c.focus = index - 1
	} else {
		c.focus = 0
	}
}

// Paste distributes the digits of text over the slots from the first one,
// ignoring anything that is not a digit and anything past the code length.
// Focus lands on the last filled slot. Paste verifies exactly like Enter.
func (c *Challenge) Paste(ctx context.Context, text string) (Identity, error) {
	digits := make([]string, 0, len(c.slots))
	for _, r := range text {
		if r >= '0' && r <= '9' {
			digits = append(digits, string(r))
			if len(digits) == cap(digits) {
				break
			}
		}
	}

	c.mu.Lock()
	if err := c.editableLocked(); err != nil {
		c.mu.Unlock()
		return Identity{}, err
	}
	if len(digits) == 0 {
		c.mu.Unlock()
		return Identity{}, ErrCodeIncomplete
	}
	copy(c.slots, digits)
	c.focus = len(digits) - 1

	code, err := c.claimLocked()
	c.mu.Unlock()
	if err != nil {
		return Identity{}, err
	}
	return c.verify(ctx, code)
}

// Verify submits the current code. It is the manual path for when the
// automatic verification failed for transport reasons.
func (c *Challenge) Verify(ctx context.Context) (Identity, error) {
	c.mu.Lock()
	if c.discarded {
		c.mu.Unlock()
		return Identity{}, ErrChallengeDiscarded
	}
	code, err := c.claimLocked()
	c.mu.Unlock()
	if err != nil {
		return Identity{}, err
	}
	return c.verify(ctx, code)
}

// Resend asks the provider for a new code. It fails with ErrResendCooldown
// until the cooldown reaches zero, then restarts the cooldown before calling
// the provider. A provider failure does not give the cooldown back.
func (c *Challenge) Resend(ctx context.Context) error {
	c.mu.Lock()
	if c.discarded {
		c.mu.Unlock()
		return ErrChallengeDiscarded
	}
	if c.cooldown > 0 {
		c.mu.Unlock()
		return ErrResendCooldown
	}
	c.startCooldownLocked()
	c.mu.Unlock()

	e := c.engine
	start := time.Now()
	err := e.provider.ResendChallenge(ctx)
	e.observeProvider(start)
	if err != nil {
		err = classifyChallengeError(err)
		e.logger.Warn().Err(err).Msg("resend challenge failed")
		return err
	}
	if _, ok := e.challengeEvent(c, ChallengeResent{}); !ok {
		return ErrChallengeDiscarded
	}

	e.metricInc(MetricChallengeResent)
	e.emitAudit(ctx, auditEventChallengeResent, true, Identity{}, c.email, nil, nil)
	return nil
}

// Close abandons the challenge, as when the user navigates away. The engine
// returns to Anonymous and the cooldown timer stops. Close after the
// challenge ended is a no-op.
func (c *Challenge) Close() {
	c.mu.Lock()
	if c.discarded {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.engine.abandonChallenge(context.Background(), c)
	c.teardown()
}

func (c *Challenge) editableLocked() error {
	if c.discarded {
		return ErrChallengeDiscarded
	}
	if c.verifying {
		return ErrVerifyInFlight
	}
	return nil
}

// claimLocked takes the single verification slot when the code is complete.
func (c *Challenge) claimLocked() (string, error) {
	if c.verifying {
		return "", ErrVerifyInFlight
	}
	for _, s := range c.slots {
		if s == "" {
			return "", ErrCodeIncomplete
		}
	}
	c.verifying = true
	return strings.Join(c.slots, ""), nil
}

func (c *Challenge) nextFocusLocked(from int) int {
	for i := from + 1; i < len(c.slots); i++ {
		if c.slots[i] == "" {
			return i
		}
	}
	for i := 0; i < from; i++ {
		if c.slots[i] == "" {
			return i
		}
	}
	return len(c.slots) - 1
}

func (c *Challenge) verify(ctx context.Context, code string) (Identity, error) {
	e := c.engine

	start := time.Now()
	err := e.provider.ConfirmChallenge(ctx, code)
	e.observeProvider(start)

	c.mu.Lock()
	if c.discarded {
		c.verifying = false
		c.mu.Unlock()
		if err == nil {
			// The provider opened a session nobody will claim.
			e.dropOrphanSession(ctx)
		}
		return Identity{}, ErrChallengeDiscarded
	}
	if err != nil {
		err = classifyChallengeError(err)
		for i := range c.slots {
			c.slots[i] = ""
		}
		c.focus = 0
		c.verifying = false
		c.flashFailureLocked()
		c.mu.Unlock()

		if _, ok := e.challengeEvent(c, ChallengeRejected{Reason: err}); !ok {
			return Identity{}, ErrChallengeDiscarded
		}
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, Identity{}, c.email, err, nil)
		e.logger.Info().Err(err).Msg("challenge code rejected")
		return Identity{}, err
	}
	c.mu.Unlock()

	id, err := e.establish(ctx)
	if err != nil {
		// The code was accepted but the profile is unusable; end the attempt.
		if _, ok := e.challengeEvent(c, LoginRejected{Err: err}); ok {
			e.detachChallenge()
		}
		c.teardown()
		e.signOutProvider(ctx)
		e.clearPersisted(ctx)
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, Identity{}, c.email, err, nil)
		return Identity{}, err
	}

	if !e.completeChallenge(c, id) {
		c.teardown()
		return Identity{}, ErrChallengeDiscarded
	}
	c.teardown()
	e.persist(ctx, id)
	if err := e.store.ClearPending(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("clear pending marker failed")
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, id, "", nil, nil)
	e.logger.Info().Str("role", id.Role().String()).Str("tenant", id.TenantID()).Msg("challenge verified")
	return id, nil
}

func (c *Challenge) flashFailureLocked() {
	c.failed = true
	if c.flash != nil {
		c.flash.Stop()
	}
	c.flash = time.AfterFunc(c.cfg.FailureFlash, func() {
		c.mu.Lock()
		c.failed = false
		c.mu.Unlock()
	})
}

func (c *Challenge) startCooldown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCooldownLocked()
}

// startCooldownLocked resets the countdown and replaces the ticker
// goroutine.
func (c *Challenge) startCooldownLocked() {
	if c.cancelTick != nil {
		c.cancelTick()
	}
	c.cooldown = c.cfg.cooldownTicks()
	if c.cooldown == 0 {
		c.cancelTick = nil
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelTick = cancel
	t := c.engine.newTicker(c.cfg.TickInterval)

	c.wg.Add(1)
	go c.countdown(ctx, t)
}

func (c *Challenge) countdown(ctx context.Context, t Ticker) {
	defer c.wg.Done()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			c.mu.Lock()
			if ctx.Err() != nil {
				c.mu.Unlock()
				return
			}
			if c.cooldown > 0 {
				c.cooldown--
			}
			done := c.cooldown == 0
			c.mu.Unlock()
			if done {
				return
			}
		}
	}
}

// teardown marks the challenge discarded and stops its timers. It waits for
// the countdown goroutine to exit and never calls into the engine.
func (c *Challenge) teardown() {
	c.mu.Lock()
	c.discarded = true
	if c.cancelTick != nil {
		c.cancelTick()
		c.cancelTick = nil
	}
	if c.flash != nil {
		c.flash.Stop()
		c.flash = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
}

func isDigit(s string) bool {
	return len(s) == 1 && s[0] >= '0' && s[0] <= '9'
}

