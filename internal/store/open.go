package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/maltedev/bestseller-affiliator/internal/database"
)

const (
	KindFirebase = "firebase"
	KindRedis    = "redis"
	KindPostgres = "postgres"
	KindMemory   = "memory"
	KindNone     = "none"
)

type Config struct {
	Kind            string
	BaseURL         string
	CredentialsFile string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	PostgresDSN     string
	Options         Options
	HTTPClient      *http.Client
}

// Open connects the configured backend. Connectivity problems degrade to a
// no-op Gateway so the scraping side of a run still works; only an unknown
// backend kind is an error.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "store", "backend", cfg.Kind)

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		if errors.Is(err, errUnknownKind) {
			return nil, fmt.Errorf("%w: %q", err, cfg.Kind)
		}
		log.Warn("record store unavailable, running in no-op mode", "error", err)
		return NewNoOp(cfg.Options, logger), nil
	}
	if backend == nil {
		log.Info("record store disabled, running in no-op mode")
		return NewNoOp(cfg.Options, logger), nil
	}

	log.Info("record store connected")
	return NewGateway(backend, cfg.Options, logger), nil
}

var errUnknownKind = errors.New("unknown store backend")

func openBackend(ctx context.Context, cfg Config) (Backend, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindFirebase:
		return openFirebase(ctx, cfg)
	case KindRedis:
		return database.NewRedis(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case KindPostgres:
		return database.New(ctx, database.Config{DSN: cfg.PostgresDSN})
	case KindMemory:
		return NewMemory(), nil
	case KindNone:
		return nil, nil
	default:
		return nil, errUnknownKind
	}
}

func openFirebase(ctx context.Context, cfg Config) (Backend, error) {
	if _, err := os.Stat(cfg.CredentialsFile); err != nil {
		return nil, fmt.Errorf("%w: credentials file: %w", ErrStoreUnavailable, err)
	}

	creds, err := LoadFirebaseCredentials(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = creds.databaseURL()
	}

	client, token := cfg.HTTPClient, creds.token()
	if creds.ServiceAccount() {
		client, err = creds.HTTPClient(ctx, cfg.HTTPClient)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		token = ""
	}

	fb, err := NewFirebase(baseURL, token, client)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	lastItem := cfg.Options.LastItemPath
	if lastItem == "" {
		lastItem = DefaultOptions().LastItemPath
	}
	if _, _, err := fb.Get(ctx, lastItem); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return fb, nil
}
