package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gpukit/errors"
)

func TestConfigValidation(t *testing.T) {
	require.Error(t, Config{}.Validate())
	require.NoError(t, DefaultConfig("nats://localhost:4222").Validate())
}

func TestNewAppliesDefaults(t *testing.T) {
	c, err := New(Config{URLs: []string{"nats://localhost:4222"}})
	require.NoError(t, err)
	assert.Equal(t, "gpukit", c.cfg.Name)
	assert.Equal(t, 2*time.Second, c.cfg.ReconnectWait)
	assert.Nil(t, c.Conn())
	assert.False(t, c.IsConnected())
}

func TestConnectFailureIsTransient(t *testing.T) {
	cfg := DefaultConfig("nats://127.0.0.1:1") // nothing listens here
	cfg.ConnectTimeout = 100 * time.Millisecond
	c, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = c.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestCloseWithoutConnect(t *testing.T) {
	c, err := New(DefaultConfig("nats://localhost:4222"))
	require.NoError(t, err)
	c.Close() // must not panic
}
