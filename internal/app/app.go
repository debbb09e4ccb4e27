package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/atvirokodosprendimai/tokengate/internal/adapters/events"
	"github.com/atvirokodosprendimai/tokengate/internal/adapters/httpapi"
	"github.com/atvirokodosprendimai/tokengate/internal/adapters/memory"
	sqliteadapter "github.com/atvirokodosprendimai/tokengate/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/tokengate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
	"github.com/atvirokodosprendimai/tokengate/internal/core/ports"
	"github.com/atvirokodosprendimai/tokengate/internal/core/usecase"
	"github.com/atvirokodosprendimai/tokengate/migrations"
)

type Config struct {
	Addr        string
	DBPath      string
	RateCounter string
	LimitsFile  string

	BootstrapToken   string
	BootstrapTokenID string
	BootstrapTenant  string
	BootstrapType    string
	BootstrapScopes  []string
	BootstrapTTL     time.Duration

	WebhookURL    string
	WebhookSecret string
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	db, err := gormsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open gateway sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	policy := usecase.DefaultLimitPolicy()
	if cfg.LimitsFile != "" {
		raw, err := os.ReadFile(cfg.LimitsFile)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("read limits file: %w", err)
		}
		policy, err = usecase.LoadLimitPolicy(raw)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("load limits file: %w", err)
		}
	}

	tokenRepo := sqliteadapter.NewTokenRepository(db)
	trailRepo := sqliteadapter.NewDecisionTrailRepository(db)
	alertRepo := sqliteadapter.NewAlertOutboxRepository(db)

	var counter ports.RateCounter
	if cfg.RateCounter == "memory" {
		counter = memory.NewCounter()
	} else {
		counter = sqliteadapter.NewRateCounterRepository(db)
	}

	var publisher ports.EventPublisher
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
	} else {
		publisher = events.NewLogPublisher()
	}

	gateway := usecase.NewGatewayService(tokenRepo, counter, trailRepo, alertRepo, usecase.GatewayConfig{Policy: policy})
	trailService := usecase.NewDecisionTrailService(trailRepo)
	dispatcher := usecase.NewAlertDispatcher(alertRepo, publisher, 2*time.Second, 100)
	dispatcher.Start(context.Background())

	if cfg.BootstrapToken != "" {
		if err := bootstrapToken(tokenRepo, cfg); err != nil {
			_ = dispatcher.Close()
			_ = db.Close()
			return nil, nil, fmt.Errorf("bootstrap token: %w", err)
		}
	}

	handler := httpapi.NewHandler(gateway, trailService)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: []io.Closer{dispatcher, db}}, nil
}

func bootstrapToken(store ports.TokenStore, cfg Config) error {
	tenant := cfg.BootstrapTenant
	if tenant == "" {
		tenant = "default"
	}
	tokenID := cfg.BootstrapTokenID
	if tokenID == "" {
		tokenID = "bootstrap"
	}
	tokenType := domain.TokenType(cfg.BootstrapType)
	if !tokenType.Valid() {
		tokenType = domain.TypeAPIKey
	}
	ttl := cfg.BootstrapTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return store.Upsert(ctx, domain.Token{
		ID:            tokenID,
		OwnerTenantID: tenant,
		Hash:          usecase.HashToken(cfg.BootstrapToken),
		Type:          tokenType,
		Scopes:        cfg.BootstrapScopes,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	})
}
