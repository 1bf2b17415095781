package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeConfig() Config {
	return Config{
		DBURL:            "postgres://localhost/app",
		RedisAddr:        "localhost:6379",
		BlobEndpoint:     "minio:9000",
		BlobBucket:       "media",
		BlobAccessKey:    "ak",
		BlobSecretKey:    "sk",
		JWTSecret:        "secret",
		CORSAllowOrigins: "*",
	}
}

func TestValidateComplete(t *testing.T) {
	require.NoError(t, completeConfig().Validate())
}

func TestValidateReportsAllMissingKeys(t *testing.T) {
	cfg := completeConfig()
	cfg.JWTSecret = ""
	cfg.BlobBucket = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "BLOB_BUCKET")
}

func TestValidateProviders(t *testing.T) {
	cfg := completeConfig()
	cfg.ChatAPIKey = "ck"
	cfg.AnalysisAPIKey = "ak"
	cfg.OpenAIAPIKey = "ok"
	cfg.ASRAPIKey = "sk"

	require.NoError(t, cfg.ValidateProviders(CapChat, CapAnalysis, CapExtraction, CapEmbedding, CapASR))
}

func TestValidateProvidersMissingKeys(t *testing.T) {
	// A chat worker started without its provider keys must abort instead of
	// dead-lettering every entry at runtime.
	cfg := completeConfig()

	err := cfg.ValidateProviders(CapChat, CapAnalysis, CapExtraction, CapEmbedding)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "CHAT_API_KEY")
	assert.Contains(t, err.Error(), "ANALYSIS_API_KEY")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	assert.NotContains(t, err.Error(), "ASR_API_KEY")
}

func TestValidateProvidersScopedToCapabilities(t *testing.T) {
	cfg := completeConfig()
	cfg.ASRAPIKey = "sk"

	// The transcriber only needs the ASR key; missing chat keys are fine.
	require.NoError(t, cfg.ValidateProviders(CapASR))

	cfg.ASRAPIKey = ""
	err := cfg.ValidateProviders(CapASR)
	require.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "ASR_API_KEY")
}
