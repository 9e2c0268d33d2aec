package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyOverlaysDefaults(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Apply(`{}`)) })

	err := Apply(`{
		"hub_concurrency": 10,
		"presence_ttl_seconds": 60,
		"redis": {"addr": "redis:6379"},
		"unknown_key": "ignored"
	}`)
	require.NoError(t, err)

	cfg := Get()
	require.Equal(t, 10, cfg.HubConcurrency)
	require.Equal(t, time.Minute, cfg.PresenceTTL())
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	// untouched fields keep their defaults
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 30*time.Second, cfg.CallTimeout())
}

func TestApplyRejectsInvalidJSON(t *testing.T) {
	require.Error(t, Apply(`{nope`))
}

func TestOnChangeFires(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Apply(`{}`)) })

	var got []int
	OnChange(func(c AppConfig) { got = append(got, c.HubConcurrency) })

	require.NoError(t, Apply(`{"hub_concurrency": 5}`))
	require.NoError(t, Apply(`{"hub_concurrency": 7}`))
	require.Equal(t, []int{5, 7}, got)
}

func TestWeaklyTypedValues(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, Apply(`{}`)) })

	// nacos documents often carry numbers as strings
	require.NoError(t, Apply(`{"hub_concurrency": "25", "node_id": "3"}`))
	cfg := Get()
	require.Equal(t, 25, cfg.HubConcurrency)
	require.Equal(t, int64(3), cfg.NodeID)
}
