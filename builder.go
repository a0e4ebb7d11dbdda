package authgate

import (
	"errors"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/authgate-io/authgate/internal/rate"
	"github.com/authgate-io/authgate/jwt"
	"github.com/authgate-io/authgate/password"
	"github.com/authgate-io/authgate/refresh"
)

// Builder assembles a [Service]. The With* setters are allocation-only;
// Build validates configuration and pre-computes the login decoy hash, but
// performs no I/O.
type Builder struct {
	config Config

	redis        redis.UniversalClient
	users        UserStore
	refreshStore refresh.Store
	auditSink    AuditSink
	logger       *slog.Logger

	built bool
}

// New returns a Builder primed with default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithSigningKey sets the HS256 access-token secret without replacing the
// rest of the configuration.
func (b *Builder) WithSigningKey(key []byte) *Builder {
	b.config.JWT.SigningKey = key
	return b
}

// WithRedis supplies the client backing the refresh store and rate limiter.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserStore supplies credential persistence. Required.
func (b *Builder) WithUserStore(store UserStore) *Builder {
	b.users = store
	return b
}

// WithRefreshStore overrides the default Redis-backed refresh store, e.g.
// with [postgres.RefreshStore].
func (b *Builder) WithRefreshStore(store refresh.Store) *Builder {
	b.refreshStore = store
	return b
}

// WithAuditSink receives security and lifecycle events. Implies
// Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithLogger sets the operator log destination. Defaults to a discarding
// logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and wires the Service. A Builder can
// only be used once.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if err := validateConfig(b.config); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store is required")
	}
	if b.redis == nil && b.refreshStore == nil {
		return nil, errors.New("redis client or refresh store is required")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required for rate limiting")
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:  b.config.JWT.AccessTTL,
		SigningKey: b.config.JWT.SigningKey,
		Issuer:     b.config.JWT.Issuer,
		Audience:   b.config.JWT.Audience,
		Leeway:     b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewArgon2(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	guard, err := password.NewGuard(hasher, b.config.Password.MaxConcurrent, b.config.Password.HashTimeout)
	if err != nil {
		return nil, err
	}

	refreshStore := b.refreshStore
	if refreshStore == nil {
		refreshStore, err = refresh.NewRedisStore(b.redis, b.config.Refresh.RedisPrefix, b.config.Refresh.FamilyTTL)
		if err != nil {
			return nil, err
		}
	}

	limiter, err := rate.New(b.redis, b.config.RateLimit.RedisPrefix)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Service{
		config:  b.config,
		users:   b.users,
		tokens:  tokens,
		hasher:  guard,
		refresh: refreshStore,
		limiter: limiter,
		audit:   newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics: &metrics{},
		log:     logger,
	}

	// Pre-compute a decoy hash so logins against unknown emails burn the same
	// argon2 cost as real verifications (no timing-based enumeration).
	decoySource, err := hasher.Hash("authgate-decoy-credential")
	if err != nil {
		return nil, err
	}
	s.decoyHash = decoySource

	return s, nil
}
