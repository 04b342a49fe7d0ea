package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server:             "voice.example.com:5900",
		DataDir:            ".hazel",
		CaptureVolume:      1.0,
		PlaybackVolume:     1.0,
		SpeakerIdleTimeout: 30 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().validate())
}

func TestValidateRequiresServer(t *testing.T) {
	cfg := validConfig()
	cfg.Server = ""
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsNegativeVolume(t *testing.T) {
	cfg := validConfig()
	cfg.CaptureVolume = -0.5
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsZeroIdleTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.SpeakerIdleTimeout = 0
	assert.Error(t, cfg.validate())
}

func TestEnvOr(t *testing.T) {
	t.Setenv("HAZEL_TEST_KEY", "from-env")
	assert.Equal(t, "from-env", envOr("HAZEL_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", envOr("HAZEL_TEST_MISSING", "fallback"))
}

func TestEnvOrInt(t *testing.T) {
	t.Setenv("HAZEL_TEST_INT", "7")
	assert.Equal(t, 7, envOrInt("HAZEL_TEST_INT", 1))

	t.Setenv("HAZEL_TEST_INT", "not-a-number")
	assert.Equal(t, 1, envOrInt("HAZEL_TEST_INT", 1))
}
