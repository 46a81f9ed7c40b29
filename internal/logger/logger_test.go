package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_FormatsFieldsInNameOrder(t *testing.T) {
	var buf bytes.Buffer
	l := &log.Logger{Handler: NewHandler(&buf), Level: log.DebugLevel}

	l.WithFields(log.Fields{"key": "web:abc", "evicted": 2}).Debug("cache set")
	l.WithError(errors.New("boom")).Warn("cache lookup failed")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "[DEBUG] cache set evicted=2 key=web:abc")
	assert.Contains(t, string(lines[1]), "[WARN] cache lookup failed error=boom")
}

func TestHandler_RespectsLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := &log.Logger{Handler: NewHandler(&buf), Level: log.InfoLevel}

	l.Debug("hidden")
	l.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[INFO] shown")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    log.Level
		wantErr bool
	}{
		{"", log.InfoLevel, false},
		{"debug", log.DebugLevel, false},
		{"WARN", log.WarnLevel, false},
		{"loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitFromEnv_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "memocache.log")
	t.Setenv(envLogPath, path)
	t.Setenv(envLogLevel, "debug")

	require.NoError(t, InitFromEnv())
	t.Cleanup(func() {
		_ = Close()
		log.SetHandler(discard.Default)
		log.SetLevel(log.InfoLevel)
	})

	log.WithField("prefix", "web").Debug("manager ready")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] manager ready prefix=web")
}
