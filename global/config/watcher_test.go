package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNacosWatcherStopIsReentrant(t *testing.T) {
	// unroutable server; the watcher only logs and keeps the defaults
	stop := StartNacosWatcher("127.0.0.1", 1, "sphene-server", "DEFAULT_GROUP")
	require.NotNil(t, stop)

	stop()
	stop()
}
