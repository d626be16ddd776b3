package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "DECOY_MIN_DELAY", "500ms")
	setEnv(t, "ALLOWLIST", "10.0.0.0/8, monitor-bot-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEscalationPolicy, cfg.EscalationPolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.DecoyMinDelay)
	assert.Equal(t, []string{"10.0.0.0/8", "monitor-bot-1"}, cfg.Allowlist)
	assert.Equal(t, DefaultProfileSamples, cfg.ProfileSamplesPerChannel)
}

func TestLoad_InvalidEscalationPolicy(t *testing.T) {
	setEnv(t, "ESCALATION_POLICY", "nuke")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ESCALATION_POLICY")
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		EscalationPolicy:         "flag",
		DecoyMinDelay:            time.Second,
		DecoyMaxDelay:            4 * time.Second,
		ProfileSamplesPerChannel: 500,
		ProfileMaxEntries:        10000,
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"block policy is valid", func(c *Config) { c.EscalationPolicy = "block" }, ""},
		{"bad policy", func(c *Config) { c.EscalationPolicy = "deny" }, "ESCALATION_POLICY"},
		{"zero min delay", func(c *Config) { c.DecoyMinDelay = 0 }, "DECOY_MIN_DELAY"},
		{"max below min", func(c *Config) { c.DecoyMaxDelay = 500 * time.Millisecond }, "DECOY_MAX_DELAY"},
		{"zero samples", func(c *Config) { c.ProfileSamplesPerChannel = 0 }, "PROFILE_SAMPLES_PER_CHANNEL"},
		{"zero entries", func(c *Config) { c.ProfileMaxEntries = 0 }, "PROFILE_MAX_ENTRIES"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	setEnv(t, "TEST_DUR", "2s")
	setEnv(t, "TEST_DUR_BAD", "eventually")

	assert.Equal(t, 2*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DUR_BAD", time.Minute))
}

func TestGetEnvList(t *testing.T) {
	setEnv(t, "TEST_LIST", "a, b ,,c")
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("TEST_LIST"))
	assert.Nil(t, getEnvList("NONEXISTENT_LIST"))
}
