package common

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TEXT_MODELS", " a , ,b ")
	t.Setenv("VISION_MODELS", "v")
	t.Setenv("CONF_THRESHOLD", "0.8")
	t.Setenv("STRATEGY_CALL_TIMEOUT", "30s")
	t.Setenv("INTERNAL_API_BACKOFF_MS", "100")
	t.Setenv("QUEUE_WORKERS", "not-a-number")
	t.Setenv("LLM_JSON_MODE", "true")

	cfg := LoadConfig()
	assert.Equal(t, []string{"a", "b"}, cfg.Strategy.TextModels)
	assert.Equal(t, []string{"v"}, cfg.Strategy.VisionModels)
	assert.Equal(t, 0.8, cfg.Strategy.AutoApproveThreshold)
	assert.Equal(t, 30*time.Second, cfg.Strategy.CallTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.InternalAPI.Backoff)
	assert.Equal(t, 1, cfg.Queue.Workers, "unparsable values keep the default")
	assert.True(t, cfg.LLM.JSONMode)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"empty http addr", func(c *Config) { c.Server.HTTPAddr = "" }},
		{"no models", func(c *Config) { c.Strategy.TextModels, c.Strategy.VisionModels = nil, nil }},
		{"threshold above one", func(c *Config) { c.Strategy.AutoApproveThreshold = 1.5 }},
		{"negative penalty", func(c *Config) { c.Strategy.FlagPenalty = -0.1 }},
		{"jetstream without url", func(c *Config) { c.Queue.Kind, c.Queue.NATSURL = "jetstream", "" }},
		{"unknown queue", func(c *Config) { c.Queue.Kind = "redis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			cfg.Queue.Kind = "memory"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
			var appErr *AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "CONFIG_ERROR", appErr.Code)
		})
	}
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, SplitCSV("x,,  y ,"))
	assert.Nil(t, SplitCSV(" , "))
}

func TestValidatorRules(t *testing.T) {
	tests := []struct {
		name  string
		value any
		rule  ValidationRule
		ok    bool
	}{
		{"required ok", "x", Required, true},
		{"required blank", "  ", Required, false},
		{"required nil", nil, Required, false},
		{"max length counts runes", "çğış", MaxLength(4), true},
		{"max length exceeded", "abcde", MaxLength(4), false},
		{"uuid ok", "6f1c2a34-6a53-4f4e-9a39-0d3c1a9f2b11", UUID, true},
		{"uuid bad", "123", UUID, false},
		{"currency empty allowed", "", CurrencyCode, true},
		{"currency ok", "EUR", CurrencyCode, true},
		{"currency lowercase", "eur", CurrencyCode, false},
		{"currency length", "EURO", CurrencyCode, false},
		{"base64 ok", "aGVsbG8=", Base64, true},
		{"base64 bad", "%%%", Base64, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule("f", tt.value)
			if tt.ok {
				assert.Nil(t, err)
			} else {
				require.NotNil(t, err)
				assert.Equal(t, "f", err.Field)
			}
		})
	}
}

func TestValidateAndReturnError(t *testing.T) {
	v := NewValidator().
		Field("a", "", Required).
		Field("b", "XYZ", CurrencyCode)
	assert.Len(t, v.Errors(), 1)

	err := ValidateAndReturnError(v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "a: is required")
	assert.NotContains(t, err.Error(), "b:")

	assert.NoError(t, ValidateAndReturnError(NewValidator().Field("a", "x", Required)))
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, errors.Is(NotFoundError("request", "x"), ErrNotFound))
	assert.True(t, errors.Is(TransitionError("done", "processing"), ErrInvalidTransition))
	assert.True(t, errors.Is(WrapError(ErrDatabase, "insert"), ErrDatabase))
	assert.Nil(t, WrapError(nil, "noop"))
}

func TestLoggerFromContext(t *testing.T) {
	fallback := slog.Default()
	assert.Same(t, fallback, LoggerFromContext(context.Background(), fallback))

	ctx := WithRequestID(context.Background(), "rid")
	assert.Equal(t, "rid", RequestIDFromContext(ctx))
	assert.NotSame(t, fallback, LoggerFromContext(ctx, fallback))
}
