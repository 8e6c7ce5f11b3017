package configbinder_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/riptide/pkg/flow/support/util/configbinder"
)

type reminderConfig struct {
	Channel  string        `yaml:"channel"`
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Tags     []string      `yaml:"tags"`
}

func TestBindProperties_WeaklyTyped(t *testing.T) {
	var cfg reminderConfig
	err := configbinder.BindProperties(map[string]interface{}{
		"channel":  "email",
		"attempts": "3",
		"delay":    "1500ms",
		"tags":     "a,b",
	}, &cfg)

	require.NoError(t, err)
	assert.Equal(t, "email", cfg.Channel)
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, 1500*time.Millisecond, cfg.Delay)
	assert.Equal(t, []string{"a", "b"}, cfg.Tags)
}

func TestBindProperties_Empty(t *testing.T) {
	cfg := reminderConfig{Channel: "sms"}
	require.NoError(t, configbinder.BindProperties(nil, &cfg))
	assert.Equal(t, "sms", cfg.Channel)
}

func TestBindProperties_TypeMismatch(t *testing.T) {
	var cfg reminderConfig
	err := configbinder.BindProperties(map[string]interface{}{"attempts": "many"}, &cfg)
	assert.Error(t, err)
}
