package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-forensics/internal/config"
)

func TestSetup_JSONWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processing.log")
	var stdout bytes.Buffer

	logger, closer, err := setup(config.LogConfig{Level: "debug", Format: "json", File: path}, &stdout)
	require.NoError(t, err)

	logger.Info().Str("image_id", "img_0001").Msg("Ingest completed")
	logger.Debug().Msg("state change")
	require.NoError(t, closer.Close())

	assert.Contains(t, stdout.String(), `"image_id":"img_0001"`)
	assert.Contains(t, stdout.String(), "state change")

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), "Ingest completed")
}

func TestSetup_LevelFilter(t *testing.T) {
	var stdout bytes.Buffer
	logger, _, err := setup(config.LogConfig{Level: "warn", Format: "json"}, &stdout)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "shown")
}

func TestSetup_UnknownLevelFallsBackToInfo(t *testing.T) {
	var stdout bytes.Buffer
	logger, _, err := setup(config.LogConfig{Level: "verbose", Format: "console"}, &stdout)
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Msg("visible")

	assert.NotContains(t, stdout.String(), "hidden")
	assert.Contains(t, stdout.String(), "visible")
}
