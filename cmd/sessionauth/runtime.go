package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reviewpulse/sessionauth"
	"github.com/reviewpulse/sessionauth/idtoken"
	"github.com/reviewpulse/sessionauth/provider/cognito"
	"github.com/reviewpulse/sessionauth/session"
	"github.com/rs/zerolog"
)

// runtime is one CLI invocation's engine and its collaborators.
type runtime struct {
	cfg     cliConfig
	logger  zerolog.Logger
	engine  *sessionauth.Engine
	closers []func()
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.TrimSpace(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

func openBackend(cfg cliConfig) (session.Backend, func(), error) {
	switch cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return session.NewRedisBackend(client, cfg.Storage.RedisPrefix, cfg.Storage.RedisTTL), func() { _ = client.Close() }, nil
	default:
		b, err := session.NewFileBackend(cfg.StateDir)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	}
}

// openRuntime wires the Cognito provider configured in cfg and hydrates.
func openRuntime(ctx context.Context, cfg cliConfig, logger zerolog.Logger) (*runtime, error) {
	if cfg.Cognito.ClientID == "" {
		return nil, errors.New("no identity provider configured: set cognito.client_id (or run `sessionauth demo`)")
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, closers: []func(){closeBackend}}

	opts := []cognito.Option{cognito.WithLogger(logger)}
	if cfg.VerifyIDToken {
		v, err := idtoken.NewRemoteVerifier(ctx, idtoken.VerifierConfig{
			Issuer:   idtoken.CognitoIssuer(cfg.Cognito.Region, cfg.Cognito.UserPoolID),
			ClientID: cfg.Cognito.ClientID,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		opts = append(opts, cognito.WithVerifier(v))
	}

	provider, err := cognito.New(cfg.Cognito, cognito.NewClient(cfg.Cognito), backend, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if err := rt.build(ctx, provider, backend); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) build(ctx context.Context, provider sessionauth.IdentityProvider, backend session.Backend) error {
	b := sessionauth.New().
		WithConfig(rt.cfg.Config).
		WithIdentityProvider(provider).
		WithStore(backend).
		WithLogger(rt.logger)
	if rt.cfg.Audit.Enabled {
		b = b.WithAuditSink(sessionauth.NewJSONWriterSink(os.Stderr))
	}

	engine, err := b.Build()
	if err != nil {
		return err
	}
	rt.engine = engine
	rt.closers = append([]func(){engine.Close}, rt.closers...)

	if _, _, err := engine.Hydrate(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("restore session failed")
	}
	return nil
}

func (rt *runtime) Close() {
	for _, c := range rt.closers {
		c()
	}
	rt.closers = nil
}

func describe(id sessionauth.Identity) string {
	if id.TenantID() == "" {
		return fmt.Sprintf("%s (%s)", id.Email(), id.Role())
	}
	return fmt.Sprintf("%s (%s, tenant %s)", id.Email(), id.Role(), id.TenantID())
}
