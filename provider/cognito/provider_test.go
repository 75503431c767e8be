package cognito

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/reviewpulse/sessionauth"
	"github.com/reviewpulse/sessionauth/idtoken"
	"github.com/reviewpulse/sessionauth/session"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu sync.Mutex

	initiate  []*cip.InitiateAuthInput
	respond   []*cip.RespondToAuthChallengeInput
	signedOut []string

	initiateFn func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error)
	respondFn  func(in *cip.RespondToAuthChallengeInput) (*cip.RespondToAuthChallengeOutput, error)
	getUserFn  func(in *cip.GetUserInput) (*cip.GetUserOutput, error)
}

func (f *fakeAPI) InitiateAuth(_ context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	f.mu.Lock()
	f.initiate = append(f.initiate, in)
	fn := f.initiateFn
	f.mu.Unlock()
	return fn(in)
}

func (f *fakeAPI) RespondToAuthChallenge(_ context.Context, in *cip.RespondToAuthChallengeInput, _ ...func(*cip.Options)) (*cip.RespondToAuthChallengeOutput, error) {
	f.mu.Lock()
	f.respond = append(f.respond, in)
	fn := f.respondFn
	f.mu.Unlock()
	return fn(in)
}

func (f *fakeAPI) GetUser(_ context.Context, in *cip.GetUserInput, _ ...func(*cip.Options)) (*cip.GetUserOutput, error) {
	return f.getUserFn(in)
}

func (f *fakeAPI) GlobalSignOut(_ context.Context, in *cip.GlobalSignOutInput, _ ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error) {
	f.mu.Lock()
	f.signedOut = append(f.signedOut, aws.ToString(in.AccessToken))
	f.mu.Unlock()
	return &cip.GlobalSignOutOutput{}, nil
}

func authResult(access string, expiresIn int32) *types.AuthenticationResultType {
	return &types.AuthenticationResultType{
		AccessToken:  aws.String(access),
		IdToken:      aws.String("id-" + access),
		RefreshToken: aws.String("refresh-1"),
		TokenType:    aws.String("Bearer"),
		ExpiresIn:    expiresIn,
	}
}

func userAttrs(pairs ...string) *cip.GetUserOutput {
	out := &cip.GetUserOutput{Username: aws.String("alice")}
	for i := 0; i+1 < len(pairs); i += 2 {
		out.UserAttributes = append(out.UserAttributes, types.AttributeType{Name: aws.String(pairs[i]), Value: aws.String(pairs[i+1])})
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestProvider(t *testing.T, api *fakeAPI, cfg Config, opts ...Option) (*Provider, *clock, session.Backend) {
	t.Helper()
	if cfg.ClientID == "" {
		cfg.ClientID = "client-1"
	}
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	backend := session.NewMemoryBackend()
	p, err := New(cfg, api, backend, append([]Option{WithClock(clk.Now)}, opts...)...)
	require.NoError(t, err)
	return p, clk, backend
}

func TestNewRequiresClientAPIAndBackend(t *testing.T) {
	api := &fakeAPI{}
	_, err := New(Config{}, api, session.NewMemoryBackend())
	require.Error(t, err)
	_, err = New(Config{ClientID: "c"}, nil, session.NewMemoryBackend())
	require.Error(t, err)
	_, err = New(Config{ClientID: "c"}, api, nil)
	require.Error(t, err)
}

func TestLoginWithoutChallengeCachesTokens(t *testing.T) {
	api := &fakeAPI{
		initiateFn: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access-1", 3600)}, nil
		},
		getUserFn: func(in *cip.GetUserInput) (*cip.GetUserOutput, error) {
			require.Equal(t, "access-1", aws.ToString(in.AccessToken))
			return userAttrs("email", "alice@brand.test", "custom:role", "admin", "custom:brandId", "brand-7"), nil
		},
	}
	p, clk, _ := newTestProvider(t, api, Config{})
	ctx := context.Background()

	out, err := p.Login(ctx, " Alice@Brand.Test ", "pw")
	require.NoError(t, err)
	require.False(t, out.ChallengeRequired)

	in := api.initiate[0]
	require.Equal(t, types.AuthFlowTypeUserPasswordAuth, in.AuthFlow)
	require.Equal(t, "alice@brand.test", in.AuthParameters["USERNAME"])
	require.Equal(t, "pw", in.AuthParameters["PASSWORD"])
	require.NotContains(t, in.AuthParameters, "SECRET_HASH")

	sess, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice@brand.test", sess.Subject)
	require.Equal(t, clk.Now().Add(time.Hour), sess.ExpiresAt)

	attrs, err := p.Attributes(ctx)
	require.NoError(t, err)
	require.Equal(t, sessionauth.Attributes{Email: "alice@brand.test", Role: "admin", TenantID: "brand-7"}, attrs)

	tok, err := p.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", tok.AccessToken)
	require.Equal(t, "id-access-1", tok.Extra("id_token"))
}

func TestLoginSendsSecretHash(t *testing.T) {
	api := &fakeAPI{
		initiateFn: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access-1", 3600)}, nil
		},
	}
	p, _, _ := newTestProvider(t, api, Config{ClientSecret: "s3cret"})

	_, err := p.Login(context.Background(), "alice@brand.test", "pw")
	require.NoError(t, err)
	require.Equal(t, secretHash("alice@brand.test", "client-1", "s3cret"), api.initiate[0].AuthParameters["SECRET_HASH"])
}

func TestLoginErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad password", &types.NotAuthorizedException{Message: aws.String("Incorrect username or password.")}, sessionauth.ErrInvalidCredentials},
		{"unknown user", &types.UserNotFoundException{Message: aws.String("User does not exist.")}, sessionauth.ErrInvalidCredentials},
		{"disabled", &types.NotAuthorizedException{Message: aws.String("User is disabled.")}, sessionauth.ErrAccountDisabled},
		{"unconfirmed", &types.UserNotConfirmedException{Message: aws.String("User is not confirmed.")}, sessionauth.ErrAccountUnconfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				initiateFn: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) { return nil, tt.err },
			}
			p, _, _ := newTestProvider(t, api, Config{})
			_, err := p.Login(context.Background(), "alice@brand.test", "pw")
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("transport passes through", func(t *testing.T) {
		boom := errors.New("dial tcp: refused")
		api := &fakeAPI{
			initiateFn: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) { return nil, boom },
		}
		p, _, _ := newTestProvider(t, api, Config{})
		_, err := p.Login(context.Background(), "alice@brand.test", "pw")
		require.ErrorIs(t, err, boom)
	})
}

func challengeAPI() *fakeAPI {
	sessions := 0
	return &fakeAPI{
		initiateFn: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			sessions++
			return &cip.InitiateAuthOutput{
				ChallengeName: types.ChallengeNameTypeSmsMfa,
				Session:       aws.String("challenge-session-" + string(rune('0'+sessions))),
				ChallengeParameters: map[string]string{
					"CODE_DELIVERY_DELIVERY_MEDIUM": "SMS",
					"CODE_DELIVERY_DESTINATION":     "+*******4567",
				},
			}, nil
		},
		respondFn: func(in *cip.RespondToAuthChallengeInput) (*cip.RespondToAuthChallengeOutput, error) {
			if in.ChallengeResponses["SMS_MFA_CODE"] != "246810" {
				return nil, &types.CodeMismatchException{Message: aws.String("Invalid code received for user")}
			}
			return &cip.RespondToAuthChallengeOutput{AuthenticationResult: authResult("access-mfa", 3600)}, nil
		},
	}
}

func TestChallengeFlow(t *testing.T) {
	api := challengeAPI()
	p, _, _ := newTestProvider(t, api, Config{})
	ctx := context.Background()

	out, err := p.Login(ctx, "alice@brand.test", "pw")
	require.NoError(t, err)
	require.True(t, out.ChallengeRequired)
	require.Equal(t, sessionauth.MediumSMS, out.Medium)
	require.Equal(t, "+*******4567", out.Destination)

	_, err = p.CurrentSession(ctx)
	require.ErrorIs(t, err, sessionauth.ErrNoActiveSession)

	require.ErrorIs(t, p.ConfirmChallenge(ctx, "000000"), sessionauth.ErrInvalidOrExpiredCode)

	require.NoError(t, p.ResendChallenge(ctx))
	require.Len(t, api.initiate, 2)
	require.Equal(t, "pw", api.initiate[1].AuthParameters["PASSWORD"])

	require.NoError(t, p.ConfirmChallenge(ctx, "246810"))
	last := api.respond[len(api.respond)-1]
	require.Equal(t, types.ChallengeNameTypeSmsMfa, last.ChallengeName)
	require.Equal(t, "challenge-session-2", aws.ToString(last.Session))
	require.Equal(t, "alice@brand.test", last.ChallengeResponses["USERNAME"])

	sess, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	require.Equal(t, "alice@brand.test", sess.Subject)

	// The password is not kept once the challenge is answered.
	require.ErrorIs(t, p.ResendChallenge(ctx), sessionauth.ErrInvalidOrExpiredCode)
}

func TestEmailOTPChallenge(t *testing.T) {
	api := &fakeAPI{
		initiateFn: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{
				ChallengeName:       ChallengeEmailOTP,
				Session:             aws.String("s1"),
				ChallengeParameters: map[string]string{"CODE_DELIVERY_DESTINATION": "a***@brand.test"},
			}, nil
		},
		respondFn: func(in *cip.RespondToAuthChallengeInput) (*cip.RespondToAuthChallengeOutput, error) {
			require.Equal(t, "135791", in.ChallengeResponses["EMAIL_OTP_CODE"])
			return &cip.RespondToAuthChallengeOutput{AuthenticationResult: authResult("access-otp", 3600)}, nil
		},
	}
	p, _, _ := newTestProvider(t, api, Config{})
	ctx := context.Background()

	out, err := p.Login(ctx, "alice@brand.test", "pw")
	require.NoError(t, err)
	require.Equal(t, sessionauth.MediumEmail, out.Medium)
	require.NoError(t, p.ConfirmChallenge(ctx, "135791"))
}

func TestExpiredChallengeSession(t *testing.T) {
	api := challengeAPI()
	api.respondFn = func(*cip.RespondToAuthChallengeInput) (*cip.RespondToAuthChallengeOutput, error) {
		return nil, &types.NotAuthorizedException{Message: aws.String("Invalid session for the user, session is expired.")}
	}
	p, _, _ := newTestProvider(t, api, Config{})
	ctx := context.Background()

	_, err := p.Login(ctx, "alice@brand.test", "pw")
	require.NoError(t, err)
	require.ErrorIs(t, p.ConfirmChallenge(ctx, "246810"), sessionauth.ErrInvalidOrExpiredCode)
}

func TestTokensRefreshWhenExpired(t *testing.T) {
	var refreshed bool
	api := &fakeAPI{
		initiateFn: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			if in.AuthFlow == types.AuthFlowTypeRefreshTokenAuth {
				refreshed = true
				require.Equal(t, "refresh-1", in.AuthParameters["REFRESH_TOKEN"])
				res := authResult("access-2", 3600)
				res.RefreshToken = nil
				return &cip.InitiateAuthOutput{AuthenticationResult: res}, nil
			}
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access-1", 60)}, nil
		},
	}
	p, clk, _ := newTestProvider(t, api, Config{})
	ctx := context.Background()

	_, err := p.Login(ctx, "alice@brand.test", "pw")
	require.NoError(t, err)

	clk.advance(45 * time.Second)
	tok, err := p.AccessToken(ctx)
	require.NoError(t, err)
	require.True(t, refreshed)
	require.Equal(t, "access-2", tok.AccessToken)
	require.Equal(t, "refresh-1", tok.RefreshToken)
}

func TestRevokedRefreshTokenEndsSession(t *testing.T) {
	api := &fakeAPI{
		initiateFn: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			if in.AuthFlow == types.AuthFlowTypeRefreshTokenAuth {
				return nil, &types.NotAuthorizedException{Message: aws.String("Refresh Token has been revoked")}
			}
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access-1", 60)}, nil
		},
	}
	p, clk, backend := newTestProvider(t, api, Config{})
	ctx := context.Background()

	_, err := p.Login(ctx, "alice@brand.test", "pw")
	require.NoError(t, err)
	clk.advance(time.Hour)

	_, err = p.CurrentSession(ctx)
	require.ErrorIs(t, err, sessionauth.ErrNoActiveSession)
	_, err = backend.Get(ctx, DefaultTokenKey)
	require.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestSignOutIsIdempotent(t *testing.T) {
	api := &fakeAPI{
		initiateFn: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access-1", 3600)}, nil
		},
	}
	p, _, _ := newTestProvider(t, api, Config{})
	ctx := context.Background()

	_, err := p.Login(ctx, "alice@brand.test", "pw")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx))
	require.NoError(t, p.SignOut(ctx))
	require.Equal(t, []string{"access-1"}, api.signedOut)

	_, err = p.AccessToken(ctx)
	require.ErrorIs(t, err, sessionauth.ErrNoActiveSession)
}

func TestCorruptTokenCacheIsDropped(t *testing.T) {
	p, _, backend := newTestProvider(t, &fakeAPI{}, Config{})
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, DefaultTokenKey, []byte("{oops")))

	_, err := p.CurrentSession(ctx)
	require.ErrorIs(t, err, sessionauth.ErrNoActiveSession)
	_, err = backend.Get(ctx, DefaultTokenKey)
	require.ErrorIs(t, err, session.ErrKeyNotFound)
}

func TestAttributesFromVerifiedIDToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	issuer := idtoken.CognitoIssuer("eu-west-1", "eu-west-1_pool")
	mgr, err := idtoken.NewManager(idtoken.Config{
		TTL:           time.Hour,
		SigningMethod: idtoken.MethodRS256,
		PrivateKey:    pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		Issuer:        issuer,
		Audience:      "client-1",
	})
	require.NoError(t, err)
	raw, _, err := mgr.Mint("sub-1", "alice@brand.test", "viewer", "brand-3")
	require.NoError(t, err)

	verifier, err := idtoken.NewStaticVerifier(idtoken.VerifierConfig{Issuer: issuer, ClientID: "client-1"}, mgr.PublicKey())
	require.NoError(t, err)

	api := &fakeAPI{
		initiateFn: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			res := authResult("access-1", 3600)
			res.IdToken = aws.String(raw)
			return &cip.InitiateAuthOutput{AuthenticationResult: res}, nil
		},
		getUserFn: func(*cip.GetUserInput) (*cip.GetUserOutput, error) {
			t.Fatal("GetUser must not be called when a verifier is set")
			return nil, nil
		},
	}
	p, _, _ := newTestProvider(t, api, Config{}, WithVerifier(verifier))
	ctx := context.Background()

	_, err = p.Login(ctx, "alice@brand.test", "pw")
	require.NoError(t, err)
	attrs, err := p.Attributes(ctx)
	require.NoError(t, err)
	require.Equal(t, sessionauth.Attributes{Email: "alice@brand.test", Role: "viewer", TenantID: "brand-3"}, attrs)
}
