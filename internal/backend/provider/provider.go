// Package provider builds the backend handle for the configured provider.
package provider

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/backend/live"
	"github.com/Sivtheng/message-maxy/internal/backend/local"
	"github.com/Sivtheng/message-maxy/internal/backend/memory"
	"github.com/Sivtheng/message-maxy/internal/backend/postgres"
	"github.com/Sivtheng/message-maxy/internal/backend/supabase"
	"github.com/Sivtheng/message-maxy/internal/config"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

// Open builds a handle for cfg.Backend.Provider. Missing or unusable provider
// settings are logged and leave the affected parts nil; only unexpected
// failures are returned as errors.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend.Handle, error) {
	if log == nil {
		log = logger.NewDefault("backend")
	}
	h := &backend.Handle{}

	var err error
	switch cfg.Backend.Provider {
	case config.ProviderPostgres:
		err = openPostgres(ctx, h, cfg, log)
	case config.ProviderSupabase:
		err = openSupabase(ctx, h, cfg, log)
	default:
		err = openMemory(ctx, h, cfg, log)
	}
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	status := h.Status()
	entry := log.WithFields(map[string]interface{}{
		"provider": cfg.Backend.Provider,
		"auth":     status.Auth,
		"docs":     status.Docs,
		"objects":  status.Objects,
	})
	if status.Complete() {
		entry.Info("backend ready")
	} else {
		entry.Warn("backend partially configured; affected operations return empty results")
	}
	return h, nil
}

// notifier returns a Redis notifier when configured, or nil for in-process
// fan-out.
func notifier(ctx context.Context, h *backend.Handle, cfg *config.Config, log *logger.Logger) live.Notifier {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client, err := live.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("redis unavailable; live updates stay in-process")
		return nil
	}
	h.OnClose(client.Close)
	return live.NewRedisNotifier(client, log.Named("live"))
}

func localAuth(h *backend.Handle, docs backend.DocumentStore, cfg *config.Config, log *logger.Logger) {
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.WithError(err).Warn("cannot generate token secret; auth disabled")
			return
		}
		log.Warn("JWT_SECRET not set; using an ephemeral secret, sessions end on restart")
	}
	auth, err := local.New(docs, local.Config{Secret: secret, TokenTTL: cfg.Auth.TokenTTL}, log.Named("auth"))
	if err != nil {
		log.WithError(err).Warn("auth disabled")
		return
	}
	h.Auth = auth
}

func openMemory(ctx context.Context, h *backend.Handle, cfg *config.Config, log *logger.Logger) error {
	docs := memory.NewDocs(notifier(ctx, h, cfg, log), log.Named("memory"))
	h.Docs = docs
	h.Objects = memory.NewObjects(cfg.Server.PublicURL)
	localAuth(h, docs, cfg, log)
	return nil
}

func openPostgres(ctx context.Context, h *backend.Handle, cfg *config.Config, log *logger.Logger) error {
	dbCfg := cfg.Database
	if dbCfg.DSN == "" {
		log.Warn("DATABASE_URL not set; postgres backend unavailable")
		return nil
	}
	if dbCfg.Migrate {
		if err := postgres.Migrate(dbCfg.DSN); err != nil {
			log.WithError(err).Warn("schema migration failed; postgres backend unavailable")
			return nil
		}
	}
	db, err := postgres.Open(ctx, dbCfg.DSN, dbCfg.MaxOpenConns, dbCfg.MaxIdleConns,
		time.Duration(dbCfg.ConnMaxLifetime)*time.Second)
	if err != nil {
		log.WithError(err).Warn("database unreachable; postgres backend unavailable")
		return nil
	}
	h.OnClose(db.Close)

	store := postgres.New(db, notifier(ctx, h, cfg, log), cfg.Server.PublicURL, log.Named("postgres"))
	h.Docs = store
	h.Objects = store
	localAuth(h, store, cfg, log)
	return nil
}

func openSupabase(ctx context.Context, h *backend.Handle, cfg *config.Config, log *logger.Logger) error {
	sb := cfg.Supabase
	if sb.URL == "" || (sb.AnonKey == "" && sb.ServiceKey == "") {
		log.Warn("SUPABASE_URL or keys not set; supabase backend unavailable")
		return nil
	}

	transport := supabase.NewTransport(nil, supabase.DefaultRetryConfig(), supabase.DefaultCircuitBreakerConfig(), log.Named("supabase"))
	transport.Breaker = supabase.NewCircuitBreaker(supabase.CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		OnStateChange: func(from, to supabase.CircuitState) {
			log.WithFields(map[string]interface{}{"from": from.String(), "to": to.String()}).Warn("supabase circuit changed state")
		},
	})
	client, err := supabase.New(supabase.Config{
		URL:        sb.URL,
		AnonKey:    sb.AnonKey,
		ServiceKey: sb.ServiceKey,
		Bucket:     sb.Bucket,
		Schema:     sb.Schema,
		HTTPClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	})
	if err != nil {
		log.WithError(err).Warn("supabase backend unavailable")
		return nil
	}

	n := notifier(ctx, h, cfg, log)
	if sb.Realtime {
		key := sb.AnonKey
		if key == "" {
			key = sb.ServiceKey
		}
		rt, err := supabase.NewRealtime(sb.URL, key, sb.Schema, log.Named("supabase-realtime"))
		if err == nil {
			err = rt.Start(ctx)
		}
		if err != nil {
			log.WithError(err).Warn("supabase realtime unavailable; live updates limited to this process")
		} else {
			h.OnClose(rt.Close)
			n = rt
		}
	}

	h.Auth = supabase.NewAuth(client, log.Named("supabase-auth"))
	h.Docs = supabase.NewDocs(client, n, log.Named("supabase-docs"))
	storage, err := supabase.NewStorage(client, sb.Bucket)
	if err != nil {
		log.WithError(err).Warn("supabase storage unavailable")
	} else {
		h.Objects = storage
	}
	return nil
}

// Purger is implemented by auth providers that keep expiring state.
type Purger interface {
	PurgeExpired() int
}
