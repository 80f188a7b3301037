package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), name)
	}
}

func TestLoggerAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Handler: slog.NewTextHandler(&buf, nil), Component: ComponentDashboard})

	logger.WithScope("profile-a", "session-1").Info("Feed regenerated", FieldBatchSize, 10)

	out := buf.String()
	for _, want := range []string{"component=dashboard", "profile_id=profile-a", "session_id=session-1", "batch_size=10"} {
		assert.Contains(t, out, want)
	}
}

func TestMiddlewareStoresLogger(t *testing.T) {
	logger := New(Config{Handler: slog.NewTextHandler(&bytes.Buffer{}, nil), Component: ComponentHTTP})

	var got *Logger
	h := Middleware(logger)(ComponentMiddleware(ComponentWebsocket)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	})))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotNil(t, got)
	assert.Equal(t, ComponentWebsocket, got.Component())
	assert.Equal(t, "unknown", FromContext(context.Background()).Component(), "falls back to the default logger")
}
