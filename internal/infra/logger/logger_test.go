package logger

import (
	"os"
	"path/filepath"
	"testing"

	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	require.NoError(t, Init(Config{Output: path, Level: "info"}))

	zlog.Info().Msg("file sink check")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"file sink check"`)
}

func TestInit_DefaultsToStdout(t *testing.T) {
	assert.NoError(t, Init(Config{}))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "debug"},
		{"INFO", "info"},
		{"warning", "warn"},
		{"error", "error"},
		{"", "info"},
		{"nonsense", "info"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in).String(), "level %q", tt.in)
	}
}
