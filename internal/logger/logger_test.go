package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "json stdout", config: Config{Level: "debug", Format: "json", Output: "stdout"}},
		{name: "text stderr", config: Config{Level: "info", Format: "text", Output: "stderr"}},
		{name: "file output", config: Config{Level: "warn", Format: "json", Output: filepath.Join(t.TempDir(), "logs", "solsol.log")}},
		{name: "invalid level", config: Config{Level: "loud", Format: "json", Output: "stdout"}, wantErr: true},
		{name: "invalid format", config: Config{Level: "debug", Format: "xml", Output: "stdout"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, log)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestLogger_WithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := createTestLogger(t, buf)

	log.With(Field{Key: "component", Value: "scheduler"}).Info("job added", Field{Key: "job", Value: "gauge"})

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "job added", record["msg"])
	assert.Equal(t, "scheduler", record["component"])
	assert.Equal(t, "gauge", record["job"])
}

func TestLogger_ErrorAddsErrorField(t *testing.T) {
	buf := &bytes.Buffer{}
	log := createTestLogger(t, buf)

	log.Error("finalize failed", errors.New("stream already closed"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "stream already closed", record["error"])
}

type recordingSink struct {
	mu      sync.Mutex
	entries [][2]string
}

func (s *recordingSink) WriteLog(summary, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, [2]string{summary, detail})
}

func TestLogger_WithSink(t *testing.T) {
	buf := &bytes.Buffer{}
	sink := &recordingSink{}
	log := createTestLogger(t, buf).WithSink(sink, "info")

	log.Debug("not for the pane")
	log.Info("Started up", Field{Key: "version", Value: "0.1.0"})
	log.With(Field{Key: "component", Value: "manager"}).Warn("offline")

	require.Len(t, sink.entries, 2)
	assert.Contains(t, sink.entries[0][0], "INFO")
	assert.Equal(t, "Started up\nversion=0.1.0", sink.entries[0][1])
	assert.Contains(t, sink.entries[1][0], "WARN")
	assert.Equal(t, "offline\ncomponent=manager", sink.entries[1][1])

	// the original handler still receives everything it is enabled for
	assert.Contains(t, buf.String(), "not for the pane")
	assert.Contains(t, buf.String(), "Started up")
}

func TestSinkFunc(t *testing.T) {
	var got string
	SinkFunc(func(summary, detail string) { got = detail }).WriteLog("s", "d")
	assert.Equal(t, "d", got)
}

func createTestLogger(t *testing.T, buf *bytes.Buffer) *Logger {
	t.Helper()
	return &Logger{
		slog: slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
}
