package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRunLog_TimestampedName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	f, err := OpenRunLog(dir, "fix-duplicates", now)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, filepath.Join(dir, "fix-duplicates-20240304-050607.log"), f.Name())
	_, err = os.Stat(f.Name())
	assert.NoError(t, err)
}

func TestNew_MirrorsToExtraWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test", true, "debug", &buf)

	logger.Info().Str("doctor_id", "abc").Msg("hello")

	assert.Contains(t, buf.String(), `"doctor_id":"abc"`)
	assert.Contains(t, buf.String(), `"service":"test"`)
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := New("test", true, "warn", &buf)

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}
