package cfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type defPoolConfig struct {
	MaxConns int `def:"10"`
	MaxIdle  int `def:"5"`
}

type defConfig struct {
	Host     string        `def:"localhost"`
	Port     int           `def:"5432"`
	Ratio    float64       `def:"0.5"`
	Schemas  []string      `def:"public, audit"`
	Lifetime time.Duration `def:"1h"`
	AutoSync *bool         `def:"true"`
	Sync     *bool         `def:"true"`
	Name     *string       `def:"sedentary"`
	Pool     defPoolConfig
	Extra    *defPoolConfig
}

func TestSetDefaults(t *testing.T) {
	config := &defConfig{}
	require.NoError(t, SetDefaults(config))

	assert.Equal(t, "localhost", config.Host)
	assert.Equal(t, 5432, config.Port)
	assert.Equal(t, 0.5, config.Ratio)
	assert.Equal(t, []string{"public", "audit"}, config.Schemas)
	assert.Equal(t, time.Hour, config.Lifetime)
	require.NotNil(t, config.AutoSync)
	assert.True(t, *config.AutoSync)
	require.NotNil(t, config.Name)
	assert.Equal(t, "sedentary", *config.Name)
	assert.Equal(t, 10, config.Pool.MaxConns)
	assert.Equal(t, 5, config.Pool.MaxIdle)
	assert.Nil(t, config.Extra)
}

func TestSetDefaults_KeepExistingValues(t *testing.T) {
	disabled := false
	config := &defConfig{
		Host:  "db.internal",
		Port:  6543,
		Sync:  &disabled,
		Extra: &defPoolConfig{MaxConns: 3},
	}
	require.NoError(t, SetDefaults(config))

	assert.Equal(t, "db.internal", config.Host)
	assert.Equal(t, 6543, config.Port)
	require.NotNil(t, config.Sync)
	assert.False(t, *config.Sync)
	assert.Equal(t, 3, config.Extra.MaxConns)
	assert.Equal(t, 5, config.Extra.MaxIdle)
}

func TestSetDefaults_Errors(t *testing.T) {
	assert.Error(t, SetDefaults(nil))
	assert.Error(t, SetDefaults(defConfig{}))

	var config *defConfig
	assert.Error(t, SetDefaults(config))

	type badInt struct {
		Port int `def:"abc"`
	}
	assert.Error(t, SetDefaults(&badInt{}))

	type badDuration struct {
		Timeout time.Duration `def:"forever"`
	}
	assert.Error(t, SetDefaults(&badDuration{}))
}
