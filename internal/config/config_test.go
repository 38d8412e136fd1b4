package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "BUS_DRIVER", "RATE_LIMIT_MESSAGES", "RATE_LIMIT_WINDOW_SECONDS", "ARK_API_KEY", "ARK_ACCESS_KEY", "Model", "AI_PROVIDER", "ARK_MAX_TOKENS", "CORS_ORIGINS", "TRANSCRIPT_RETENTION", "TRANSCRIPT_MAX_CONVERSATIONS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 256, cfg.Server.SendBuffer)
	require.Empty(t, cfg.Server.AllowedOrigins)
	require.Equal(t, BusDriverRedis, cfg.Bus.Driver)
	require.Equal(t, 20, cfg.RateLimit.Messages)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, time.Hour, cfg.Session.TTL)
	require.Equal(t, 200, cfg.Transcript.Retention)
	require.Equal(t, 10000, cfg.Transcript.MaxConversations)
	require.Equal(t, ProviderEcho, cfg.AI.Provider)
	require.Equal(t, 500, cfg.AI.MaxTokens)
	require.Equal(t, DefaultSystemPrompt, cfg.AI.SystemPrompt)
}

func TestLoadArkProviderWhenCredentialsPresent(t *testing.T) {
	t.Setenv("AI_PROVIDER", "")
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("Model", "ep-123")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderArk, cfg.AI.Provider)
}

func TestLoadRejectsUnknownBusDriver(t *testing.T) {
	t.Setenv("BUS_DRIVER", "kafka")

	_, err := Load()
	require.Error(t, err)
}

func TestParseAddr(t *testing.T) {
	cases := map[string]string{
		"":               ":8080",
		"9000":           ":9000",
		":7000":          ":7000",
		"127.0.0.1:3001": "127.0.0.1:3001",
	}
	for in, want := range cases {
		got, err := parseAddr(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}

	_, err := parseAddr("80 80")
	require.Error(t, err)
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"https://a.example", "https://b.example"}, splitList(" https://a.example, ,https://b.example "))
	require.Nil(t, splitList(""))
}
