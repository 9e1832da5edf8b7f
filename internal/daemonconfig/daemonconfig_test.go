package daemonconfig

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestLoadAppliesDefaults(t *testing.T) {
	resetViper()
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.UsesRedis())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 0},
		Store:  StoreConfig{RootDir: "/tmp"},
		Log:    LogConfig{Level: "info"},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsEmptyRootDir(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 1234},
		Store:  StoreConfig{RootDir: ""},
		Log:    LogConfig{Level: "info"},
	}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestUsesRedis(t *testing.T) {
	cfg := &Config{Redis: RedisConfig{Addr: "localhost:6379"}}
	assert.True(t, cfg.UsesRedis())
	cfg2 := &Config{}
	assert.False(t, cfg2.UsesRedis())
}
