package config_test

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ProjectGrinder/network-moment/pkg/config"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(newTestLogger(), "does-not-exist")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Address)
	require.Empty(t, cfg.Server.Auth.JWTSecret)
	require.Zero(t, cfg.Server.ConnectionLimit.MaxPerIP)
	require.Equal(t, 5*time.Minute, cfg.Transport.ReadTimeout)
	require.Equal(t, 5*time.Second, cfg.Transport.SendTimeout)
	require.Equal(t, 30*time.Second, cfg.Transport.HeartbeatInterval)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NETMOMENT_SERVER_ADDRESS", ":9090")
	t.Setenv("NETMOMENT_TRANSPORT_SENDTIMEOUT", "2s")

	cfg, err := config.Load(newTestLogger(), "does-not-exist")
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Address)
	require.Equal(t, 2*time.Second, cfg.Transport.SendTimeout)
}
