package sessionauth

import (
	"errors"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/reviewpulse/sessionauth/session"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine].
//
// Builder instances are intended to be configured during initialization and then treated as immutable. A Builder can build once.
type Builder struct {
	config Config

	provider  IdentityProvider
	backend   session.Backend
	logger    *zerolog.Logger
	auditSink AuditSink
	navigator Navigator
	ticker    TickerFunc
	listeners []func(State)

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithIdentityProvider sets the provider adapter. Required.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithStore sets the persistence backend for the identity snapshot and the
// pending-challenge marker. Required.
func (b *Builder) WithStore(backend session.Backend) *Builder {
	b.backend = backend
	return b
}

// WithLogger sets the engine logger. The configured Logging.Level is applied
// on top of it. Without a logger the engine is silent.
func (b *Builder) WithLogger(l zerolog.Logger) *Builder {
	b.logger = &l
	return b
}

// WithAuditSink sets where audit events go. Events are only produced when
// Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithNavigator sets the hook used to send the user to the login screen
// after a 401.
func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithTicker replaces the cooldown ticker factory. Tests use it to drive
// the countdown by hand.
func (b *Builder) WithTicker(f TickerFunc) *Builder {
	b.ticker = f
	return b
}

// WithStateListener registers fn to be called after every state change.
// Listeners run synchronously on the goroutine that caused the change and
// must not call back into the engine.
func (b *Builder) WithStateListener(fn func(State)) *Builder {
	if fn != nil {
		b.listeners = append(b.listeners, fn)
	}
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns an Engine in the Hydrating
// state. Call [Engine.Hydrate] before making route decisions.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}
	if b.backend == nil {
		return nil, errors.New("session backend required")
	}

	logger := zerolog.Nop()
	if b.logger != nil {
		logger = *b.logger
		if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
			parsed, err := zerolog.ParseLevel(lvl)
			if err != nil {
				return nil, err
			}
			logger = logger.Level(parsed)
		}
	}

	ticker := b.ticker
	if ticker == nil {
		ticker = newStdTicker
	}
	navigator := b.navigator
	if navigator == nil {
		navigator = noopNavigator{}
	}

	engine := &Engine{
		config:    cfg,
		provider:  b.provider,
		store:     session.NewStore(b.backend, cfg.Storage.SnapshotKey, cfg.Storage.PendingKey),
		routes:    NewRouteTable(cfg.Routes),
		logger:    logger.With().Str("component", "sessionauth").Logger(),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		navigator: navigator,
		newTicker: ticker,
		listeners: slices.Clone(b.listeners),
		state:     Hydrating{},
		ready:     make(chan struct{}),
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
