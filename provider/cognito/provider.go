package cognito

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/reviewpulse/sessionauth"
	"github.com/reviewpulse/sessionauth/idtoken"
	"github.com/reviewpulse/sessionauth/session"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DefaultTokenKey is where the token record is cached.
const DefaultTokenKey = "reviewpulse_token"

// ChallengeEmailOTP is the EMAIL_OTP challenge, named here so older SDK
// enums still work.
const ChallengeEmailOTP types.ChallengeNameType = "EMAIL_OTP"

// refreshSkew refreshes tokens slightly before they expire.
const refreshSkew = 30 * time.Second

// API is the subset of the Cognito client the adapter calls.
type API interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	RespondToAuthChallenge(ctx context.Context, in *cip.RespondToAuthChallengeInput, optFns ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error)
	GetUser(ctx context.Context, in *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
	GlobalSignOut(ctx context.Context, in *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
}

// Config names the user pool app client.
type Config struct {
	Region     string `koanf:"region"`
	UserPoolID string `koanf:"user_pool_id"`
	ClientID   string `koanf:"client_id"`
	// ClientSecret is set for app clients with a secret; it signs every call
	// with SECRET_HASH.
	ClientSecret string `koanf:"client_secret"`
	// Endpoint overrides the service endpoint, for local emulators.
	Endpoint string `koanf:"endpoint"`
	TokenKey string `koanf:"token_key"`
}

// tokenRecord is the cached token set.
type tokenRecord struct {
	Username     string    `json:"username"`
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
}

type pendingChallenge struct {
	username string
	password string
	name     types.ChallengeNameType
	session  string
}

// Provider implements sessionauth.IdentityProvider against Cognito.
type Provider struct {
	cfg      Config
	api      API
	backend  session.Backend
	verifier *idtoken.Verifier
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	pending *pendingChallenge
}

var _ sessionauth.IdentityProvider = (*Provider)(nil)

// Option customizes a Provider.
type Option func(*Provider)

// WithVerifier reads profile attributes from the verified ID token instead
// of calling GetUser.
func WithVerifier(v *idtoken.Verifier) Option {
	return func(p *Provider) { p.verifier = v }
}

// WithLogger sets the adapter logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewClient builds an unsigned Cognito client. The user-facing auth
// operations authenticate with the app client id, so no AWS credentials
// are needed.
func NewClient(cfg Config) *cip.Client {
	opts := cip.Options{
		Region:      cfg.Region,
		Credentials: aws.AnonymousCredentials{},
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return cip.New(opts)
}

// New returns a Provider calling api and caching tokens in backend.
func New(cfg Config, api API, backend session.Backend, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("cognito client id required")
	}
	if api == nil {
		return nil, errors.New("cognito api required")
	}
	if backend == nil {
		return nil, errors.New("token backend required")
	}
	if cfg.TokenKey == "" {
		cfg.TokenKey = DefaultTokenKey
	}

	p := &Provider{
		cfg:     cfg,
		api:     api,
		backend: backend,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) Login(ctx context.Context, email, password string) (sessionauth.LoginOutcome, error) {
	username := strings.ToLower(strings.TrimSpace(email))

	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.cfg.ClientID),
		AuthParameters: p.authParams(username, map[string]string{"PASSWORD": password}),
	})
	if err != nil {
		return sessionauth.LoginOutcome{}, mapError(err)
	}

	if out.AuthenticationResult != nil {
		p.clearPending()
		return sessionauth.LoginOutcome{}, p.saveResult(ctx, username, out.AuthenticationResult, "")
	}

	switch out.ChallengeName {
	case types.ChallengeNameTypeSmsMfa, ChallengeEmailOTP:
	default:
		return sessionauth.LoginOutcome{}, fmt.Errorf("unsupported cognito challenge %q", out.ChallengeName)
	}

	p.mu.Lock()
	p.pending = &pendingChallenge{
		username: username,
		password: password,
		name:     out.ChallengeName,
		session:  aws.ToString(out.Session),
	}
	p.mu.Unlock()

	return sessionauth.LoginOutcome{
		ChallengeRequired: true,
		Medium:            challengeMedium(out.ChallengeName, out.ChallengeParameters),
		Destination:       out.ChallengeParameters["CODE_DELIVERY_DESTINATION"],
	}, nil
}

func (p *Provider) ConfirmChallenge(ctx context.Context, code string) error {
	p.mu.Lock()
	pend := p.pending
	p.mu.Unlock()
	if pend == nil {
		return sessionauth.ErrInvalidOrExpiredCode
	}

	responseKey := "SMS_MFA_CODE"
	if pend.name == ChallengeEmailOTP {
		responseKey = "EMAIL_OTP_CODE"
	}

	out, err := p.api.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
		ChallengeName:      pend.name,
		ClientId:           aws.String(p.cfg.ClientID),
		Session:            aws.String(pend.session),
		ChallengeResponses: p.authParams(pend.username, map[string]string{responseKey: code}),
	})
	if err != nil {
		return mapChallengeError(err)
	}
	if out.AuthenticationResult == nil {
		// A wrong code answered with a fresh session keeps the challenge open.
		if s := aws.ToString(out.Session); s != "" {
			p.mu.Lock()
			if p.pending == pend {
				pend.session = s
			}
			p.mu.Unlock()
		}
		return sessionauth.ErrInvalidOrExpiredCode
	}

	p.clearPending()
	return p.saveResult(ctx, pend.username, out.AuthenticationResult, "")
}

// ResendChallenge restarts USER_PASSWORD_AUTH with the retained password,
// which makes Cognito send a new code and a new challenge session.
func (p *Provider) ResendChallenge(ctx context.Context) error {
	p.mu.Lock()
	pend := p.pending
	p.mu.Unlock()
	if pend == nil {
		return sessionauth.ErrInvalidOrExpiredCode
	}

	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(p.cfg.ClientID),
		AuthParameters: p.authParams(pend.username, map[string]string{"PASSWORD": pend.password}),
	})
	if err != nil {
		return mapChallengeError(err)
	}
	if out.AuthenticationResult != nil || aws.ToString(out.Session) == "" {
		return fmt.Errorf("%w: resend did not reissue a challenge", sessionauth.ErrInvalidOrExpiredCode)
	}

	p.mu.Lock()
	if p.pending == pend {
		pend.session = aws.ToString(out.Session)
		pend.name = out.ChallengeName
	}
	p.mu.Unlock()
	return nil
}

func (p *Provider) CurrentSession(ctx context.Context) (sessionauth.ProviderSession, error) {
	rec, err := p.validRecord(ctx)
	if err != nil {
		return sessionauth.ProviderSession{}, err
	}
	return sessionauth.ProviderSession{Subject: rec.Username, ExpiresAt: rec.Expiry}, nil
}

func (p *Provider) Attributes(ctx context.Context) (sessionauth.Attributes, error) {
	rec, err := p.validRecord(ctx)
	if err != nil {
		return sessionauth.Attributes{}, err
	}

	if p.verifier != nil && rec.IDToken != "" {
		claims, err := p.verifier.Verify(ctx, rec.IDToken)
		if err != nil {
			return sessionauth.Attributes{}, fmt.Errorf("%w: %v", sessionauth.ErrInvalidAttributes, err)
		}
		return claims.Attributes(), nil
	}

	out, err := p.api.GetUser(ctx, &cip.GetUserInput{AccessToken: aws.String(rec.AccessToken)})
	if err != nil {
		err = mapError(err)
		if errors.Is(err, sessionauth.ErrInvalidCredentials) {
			// The access token was revoked elsewhere.
			p.dropRecord(ctx)
			return sessionauth.Attributes{}, sessionauth.ErrNoActiveSession
		}
		return sessionauth.Attributes{}, err
	}
	return attributesFrom(out.UserAttributes), nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.clearPending()

	rec, err := p.loadRecord(ctx)
	if err != nil {
		if errors.Is(err, sessionauth.ErrNoActiveSession) {
			return nil
		}
		return err
	}
	p.dropRecord(ctx)

	_, err = p.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{AccessToken: aws.String(rec.AccessToken)})
	if err != nil {
		err = mapError(err)
		if errors.Is(err, sessionauth.ErrInvalidCredentials) {
			return nil
		}
		return err
	}
	return nil
}

func (p *Provider) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	rec, err := p.validRecord(ctx)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{
		AccessToken:  rec.AccessToken,
		TokenType:    rec.TokenType,
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.Expiry,
	}
	return tok.WithExtra(map[string]interface{}{"id_token": rec.IDToken}), nil
}

// validRecord returns the cached tokens, refreshing them when the access
// token is about to expire.
func (p *Provider) validRecord(ctx context.Context) (tokenRecord, error) {
	rec, err := p.loadRecord(ctx)
	if err != nil {
		return tokenRecord{}, err
	}
	if p.now().Add(refreshSkew).Before(rec.Expiry) {
		return rec, nil
	}
	if rec.RefreshToken == "" {
		p.dropRecord(ctx)
		return tokenRecord{}, sessionauth.ErrNoActiveSession
	}

	out, err := p.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(p.cfg.ClientID),
		AuthParameters: p.authParams(rec.Username, map[string]string{"REFRESH_TOKEN": rec.RefreshToken}),
	})
	if err != nil {
		err = mapError(err)
		if errors.Is(err, sessionauth.ErrInvalidCredentials) {
			p.dropRecord(ctx)
			return tokenRecord{}, sessionauth.ErrNoActiveSession
		}
		return tokenRecord{}, err
	}
	if out.AuthenticationResult == nil {
		p.dropRecord(ctx)
		return tokenRecord{}, sessionauth.ErrNoActiveSession
	}
	if err := p.saveResult(ctx, rec.Username, out.AuthenticationResult, rec.RefreshToken); err != nil {
		return tokenRecord{}, err
	}
	p.logger.Debug().Msg("cognito tokens refreshed")
	return p.loadRecord(ctx)
}

// saveResult caches res. Refresh responses carry no refresh token, so the
// previous one is kept.
func (p *Provider) saveResult(ctx context.Context, username string, res *types.AuthenticationResultType, prevRefresh string) error {
	rec := tokenRecord{
		Username:     username,
		AccessToken:  aws.ToString(res.AccessToken),
		IDToken:      aws.ToString(res.IdToken),
		RefreshToken: aws.ToString(res.RefreshToken),
		TokenType:    aws.ToString(res.TokenType),
		Expiry:       p.now().Add(time.Duration(res.ExpiresIn) * time.Second),
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = prevRefresh
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := p.backend.Set(ctx, p.cfg.TokenKey, data); err != nil {
		return fmt.Errorf("cache cognito tokens: %w", err)
	}
	return nil
}

func (p *Provider) loadRecord(ctx context.Context) (tokenRecord, error) {
	data, err := p.backend.Get(ctx, p.cfg.TokenKey)
	if err != nil {
		if errors.Is(err, session.ErrKeyNotFound) {
			return tokenRecord{}, sessionauth.ErrNoActiveSession
		}
		return tokenRecord{}, err
	}
	var rec tokenRecord
	if err := json.Unmarshal(data, &rec); err != nil || rec.AccessToken == "" {
		p.logger.Warn().Msg("cached cognito tokens unreadable, dropping")
		p.dropRecord(ctx)
		return tokenRecord{}, sessionauth.ErrNoActiveSession
	}
	return rec, nil
}

func (p *Provider) dropRecord(ctx context.Context) {
	if err := p.backend.Delete(ctx, p.cfg.TokenKey); err != nil {
		p.logger.Warn().Err(err).Msg("drop cached cognito tokens failed")
	}
}

func (p *Provider) clearPending() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
}

// authParams adds USERNAME and, for secret clients, SECRET_HASH.
func (p *Provider) authParams(username string, extra map[string]string) map[string]string {
	params := make(map[string]string, len(extra)+2)
	for k, v := range extra {
		params[k] = v
	}
	params["USERNAME"] = username
	if p.cfg.ClientSecret != "" {
		params["SECRET_HASH"] = secretHash(username, p.cfg.ClientID, p.cfg.ClientSecret)
	}
	return params
}

func secretHash(username, clientID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(username + clientID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func challengeMedium(name types.ChallengeNameType, params map[string]string) sessionauth.DeliveryMedium {
	if m := params["CODE_DELIVERY_DELIVERY_MEDIUM"]; m != "" {
		return sessionauth.ParseDeliveryMedium(m)
	}
	if name == types.ChallengeNameTypeSmsMfa {
		return sessionauth.MediumSMS
	}
	return sessionauth.MediumEmail
}

func attributesFrom(attrs []types.AttributeType) sessionauth.Attributes {
	var out sessionauth.Attributes
	var brand string
	for _, a := range attrs {
		v := aws.ToString(a.Value)
		switch aws.ToString(a.Name) {
		case "email":
			out.Email = v
		case "custom:role":
			out.Role = v
		case "custom:tenantId":
			out.TenantID = v
		case "custom:brandId":
			brand = v
		}
	}
	if strings.TrimSpace(out.TenantID) == "" {
		out.TenantID = brand
	}
	return out
}
