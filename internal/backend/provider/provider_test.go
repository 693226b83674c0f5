package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/config"
)

func TestOpenMemory(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	h, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer h.Close()

	assert.True(t, h.Status().Complete())
	_, ok := h.Auth.(Purger)
	assert.True(t, ok, "local auth should expose PurgeExpired")

	id, err := h.Auth.CreateAccount(context.Background(), "alice@example.com", "secret1")
	require.NoError(t, err)
	session, err := h.Auth.Authenticate(context.Background(), "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, id, session.Identity)
}

func TestOpenRejectsShortSecretLeniently(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "short"
	require.NoError(t, cfg.Validate())

	h, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, backend.Status{Auth: false, Docs: true, Objects: true}, h.Status())
}

func TestOpenUnconfiguredProviders(t *testing.T) {
	for _, provider := range []string{config.ProviderPostgres, config.ProviderSupabase} {
		t.Run(provider, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend.Provider = provider
			require.NoError(t, cfg.Validate())

			h, err := Open(context.Background(), cfg, nil)
			require.NoError(t, err)
			defer h.Close()
			assert.Equal(t, backend.Status{}, h.Status())
		})
	}
}

func TestOpenSupabaseWithoutRealtime(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := config.Default()
	cfg.Backend.Provider = config.ProviderSupabase
	cfg.Supabase.URL = srv.URL
	cfg.Supabase.AnonKey = "anon"
	cfg.Supabase.Realtime = false
	require.NoError(t, cfg.Validate())

	h, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer h.Close()
	assert.True(t, h.Status().Complete())
}
