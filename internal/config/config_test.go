package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromContext_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
}

func TestFromContext_MissingIsNil(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
}

func TestDefaultConfig_PoolBounds(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 5, cfg.PoolSize)
	require.Equal(t, 10, cfg.PoolOverflow)
	require.Equal(t, "sqlite", cfg.DBKind)
	require.Equal(t, "none", cfg.CacheKind)
}
