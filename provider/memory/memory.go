package memory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/sessionauth"
	"github.com/reviewpulse/sessionauth/idtoken"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"
)

const (
	defaultSessionTTL = time.Hour
	defaultCodeTTL    = 3 * time.Minute
	defaultCodeLength = 6
	maxCodeAttempts   = 3
)

// User is a seeded account. Password is given in clear and hashed by New.
type User struct {
	Email    string
	Password string
	Role     string
	TenantID string
	// MFA selects where one-time codes go. Zero disables the challenge.
	MFA   sessionauth.DeliveryMedium
	Phone string

	Disabled    bool
	Unconfirmed bool
}

// Delivery is one code handed to the delivery hook.
type Delivery struct {
	Email       string
	Medium      sessionauth.DeliveryMedium
	Destination string
	Code        string
}

// Config configures a Provider.
type Config struct {
	Users []User
	// Secret signs ID tokens. A random secret is used when empty.
	Secret     []byte
	Issuer     string
	ClientID   string
	SessionTTL time.Duration
	CodeTTL    time.Duration
	CodeLength int
	BcryptCost int
	// Deliver receives every issued code.
	Deliver func(Delivery)
	Now     func() time.Time
}

type account struct {
	user User
	hash []byte
}

type pendingLogin struct {
	email    string
	code     string
	expires  time.Time
	attempts int
}

type liveSession struct {
	id          string
	email       string
	idToken     string
	accessToken string
	expires     time.Time
}

// Provider implements sessionauth.IdentityProvider for one client. It is
// safe for concurrent use.
type Provider struct {
	cfg    Config
	tokens *idtoken.Manager

	mu       sync.Mutex
	accounts map[string]*account
	pending  *pendingLogin
	session  *liveSession
	issued   map[string]*liveSession
	outbox   []Delivery
}

var _ sessionauth.IdentityProvider = (*Provider)(nil)

// New hashes the seeded passwords and returns a Provider.
func New(cfg Config) (*Provider, error) {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = defaultCodeLength
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "https://memory.sessionauth.local"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sessionauth-client"
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return nil, err
		}
	}

	tokens, err := idtoken.NewManager(idtoken.Config{
		TTL:           cfg.SessionTTL,
		SigningMethod: idtoken.MethodHS256,
		PrivateKey:    cfg.Secret,
		Issuer:        cfg.Issuer,
		Audience:      cfg.ClientID,
	})
	if err != nil {
		return nil, err
	}

	p := &Provider{
		cfg:      cfg,
		tokens:   tokens,
		accounts: make(map[string]*account, len(cfg.Users)),
		issued:   make(map[string]*liveSession),
	}
	for _, u := range cfg.Users {
		if err := p.AddUser(u); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddUser seeds or replaces an account.
func (p *Provider) AddUser(u User) error {
	key := normalize(u.Email)
	if key == "" {
		return errors.New("user email required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), p.cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", key, err)
	}
	u.Email = key
	u.Password = ""

	p.mu.Lock()
	p.accounts[key] = &account{user: u, hash: hash}
	p.mu.Unlock()
	return nil
}

func (p *Provider) Login(ctx context.Context, email, password string) (sessionauth.LoginOutcome, error) {
	if err := ctx.Err(); err != nil {
		return sessionauth.LoginOutcome{}, err
	}
	key := normalize(email)

	p.mu.Lock()
	acct := p.accounts[key]
	p.mu.Unlock()

	if acct == nil {
		return sessionauth.LoginOutcome{}, sessionauth.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return sessionauth.LoginOutcome{}, sessionauth.ErrInvalidCredentials
	}
	if acct.user.Disabled {
		return sessionauth.LoginOutcome{}, sessionauth.ErrAccountDisabled
	}
	if acct.user.Unconfirmed {
		return sessionauth.LoginOutcome{}, sessionauth.ErrAccountUnconfirmed
	}

	if acct.user.MFA == 0 {
		return sessionauth.LoginOutcome{}, p.startSession(acct.user)
	}

	d, err := p.issueCode(acct.user)
	if err != nil {
		return sessionauth.LoginOutcome{}, err
	}
	return sessionauth.LoginOutcome{
		ChallengeRequired: true,
		Medium:            d.Medium,
		Destination:       d.Destination,
	}, nil
}

func (p *Provider) ConfirmChallenge(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	pend := p.pending
	if pend == nil {
		p.mu.Unlock()
		return sessionauth.ErrInvalidOrExpiredCode
	}
	if p.cfg.Now().After(pend.expires) {
		p.pending = nil
		p.mu.Unlock()
		return fmt.Errorf("%w: code expired", sessionauth.ErrInvalidOrExpiredCode)
	}
	if code != pend.code {
		pend.attempts++
		if pend.attempts >= maxCodeAttempts {
			p.pending = nil
		}
		p.mu.Unlock()
		return sessionauth.ErrInvalidOrExpiredCode
	}
	p.pending = nil
	acct := p.accounts[pend.email]
	p.mu.Unlock()

	if acct == nil {
		return sessionauth.ErrInvalidOrExpiredCode
	}
	return p.startSession(acct.user)
}

func (p *Provider) ResendChallenge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	pend := p.pending
	var acct *account
	if pend != nil {
		acct = p.accounts[pend.email]
	}
	p.mu.Unlock()

	if acct == nil {
		return sessionauth.ErrInvalidOrExpiredCode
	}
	_, err := p.issueCode(acct.user)
	return err
}

func (p *Provider) CurrentSession(ctx context.Context) (sessionauth.ProviderSession, error) {
	if err := ctx.Err(); err != nil {
		return sessionauth.ProviderSession{}, err
	}
	s := p.liveSession()
	if s == nil {
		return sessionauth.ProviderSession{}, sessionauth.ErrNoActiveSession
	}
	return sessionauth.ProviderSession{Subject: s.id, ExpiresAt: s.expires}, nil
}

// Attributes reads the profile back out of the session's ID token.
func (p *Provider) Attributes(ctx context.Context) (sessionauth.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return sessionauth.Attributes{}, err
	}
	s := p.liveSession()
	if s == nil {
		return sessionauth.Attributes{}, sessionauth.ErrNoActiveSession
	}
	claims, err := p.tokens.Parse(s.idToken)
	if err != nil {
		return sessionauth.Attributes{}, fmt.Errorf("%w: %v", sessionauth.ErrInvalidAttributes, err)
	}
	return claims.Attributes(), nil
}

func (p *Provider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		delete(p.issued, p.session.accessToken)
	}
	p.session = nil
	p.pending = nil
	return nil
}

func (p *Provider) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := p.liveSession()
	if s == nil {
		return nil, sessionauth.ErrNoActiveSession
	}
	tok := &oauth2.Token{
		AccessToken: s.accessToken,
		TokenType:   "Bearer",
		Expiry:      s.expires,
	}
	return tok.WithExtra(map[string]interface{}{"id_token": s.idToken}), nil
}

// Authorize reports the user behind an access token, for a test API server.
func (p *Provider) Authorize(accessToken string) (sessionauth.Attributes, bool) {
	p.mu.Lock()
	s := p.issued[accessToken]
	p.mu.Unlock()
	if s == nil || p.cfg.Now().After(s.expires) {
		return sessionauth.Attributes{}, false
	}
	claims, err := p.tokens.Parse(s.idToken)
	if err != nil {
		return sessionauth.Attributes{}, false
	}
	return claims.Attributes(), true
}

// Revoke invalidates every session of email server-side, the way an
// administrator would. The client only notices on its next API call.
func (p *Provider) Revoke(email string) {
	key := normalize(email)
	p.mu.Lock()
	defer p.mu.Unlock()
	for tok, s := range p.issued {
		if s.email == key {
			delete(p.issued, tok)
		}
	}
}

// LastDelivery returns the most recent code handed out for email.
func (p *Provider) LastDelivery(email string) (Delivery, bool) {
	key := normalize(email)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.outbox) - 1; i >= 0; i-- {
		if p.outbox[i].Email == key {
			return p.outbox[i], true
		}
	}
	return Delivery{}, false
}

func (p *Provider) startSession(u User) error {
	id := uuid.NewString()
	raw, expires, err := p.tokens.Mint(id, u.Email, u.Role, u.TenantID)
	if err != nil {
		return err
	}
	s := &liveSession{
		id:          id,
		email:       u.Email,
		idToken:     raw,
		accessToken: uuid.NewString(),
		expires:     expires,
	}

	p.mu.Lock()
	p.session = s
	p.issued[s.accessToken] = s
	p.mu.Unlock()
	return nil
}

func (p *Provider) issueCode(u User) (Delivery, error) {
	code, err := generateCode(p.cfg.CodeLength)
	if err != nil {
		return Delivery{}, err
	}
	d := Delivery{
		Email:       u.Email,
		Medium:      u.MFA,
		Destination: maskDestination(u),
		Code:        code,
	}

	p.mu.Lock()
	p.pending = &pendingLogin{
		email:   u.Email,
		code:    code,
		expires: p.cfg.Now().Add(p.cfg.CodeTTL),
	}
	p.outbox = append(p.outbox, d)
	deliver := p.cfg.Deliver
	p.mu.Unlock()

	if deliver != nil {
		deliver(d)
	}
	return d, nil
}

// liveSession returns the current session unless it is missing, expired,
// or revoked.
func (p *Provider) liveSession() *liveSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.session
	if s == nil {
		return nil
	}
	if p.cfg.Now().After(s.expires) {
		p.session = nil
		delete(p.issued, s.accessToken)
		return nil
	}
	if _, ok := p.issued[s.accessToken]; !ok {
		p.session = nil
		return nil
	}
	return s
}

func generateCode(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func maskDestination(u User) string {
	if u.MFA == sessionauth.MediumSMS && len(u.Phone) > 4 {
		return strings.Repeat("*", len(u.Phone)-4) + u.Phone[len(u.Phone)-4:]
	}
	local, domain, ok := strings.Cut(u.Email, "@")
	if !ok || local == "" {
		return u.Email
	}
	return local[:1] + "***@" + domain
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
