package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decode(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  []string
	}{
		{DebugLevel, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{InfoLevel, []string{"INFO", "WARN", "ERROR"}},
		{ErrorLevel, []string{"ERROR"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			l := New(tt.level, &buf)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")

			var got []string
			for _, e := range decode(t, &buf) {
				got = append(got, e["level"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(InfoLevel, &buf).WithField("service", "cellfit")
	base.WithFields(map[string]interface{}{"job": "abc"}).Info("started", map[string]interface{}{
		"err": errors.New("boom"),
	})
	base.Info("plain")

	entries := decode(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "cellfit", entries[0]["service"])
	assert.Equal(t, "abc", entries[0]["job"])
	assert.Equal(t, "boom", entries[0]["err"])
	assert.Equal(t, "started", entries[0]["message"])
	assert.Contains(t, entries[0]["caller"], "logging/logging_test.go")
	assert.NotContains(t, entries[1], "job")
}

func TestFatalExits(t *testing.T) {
	var buf bytes.Buffer
	l := New(InfoLevel, &buf)
	code := -1
	l.sink.exit = func(c int) { code = c }
	l.Fatal("bye")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), `"level":"FATAL"`)
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithFormat(DebugLevel, &buf, TextFormat)
	l.Info("fit finished", map[string]interface{}{"cost": 0.5, "backend": "pso"})

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "INFO  fit finished")
	assert.Contains(t, line, " backend=pso")
	assert.Contains(t, line, " cost=0.5")
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := NewLogger(&Config{Level: "warn", Format: "console", Output: path})
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, l.Level())
	assert.Equal(t, TextFormat, l.sink.format)

	l, err = NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, l.Level())

	_, err = NewLogger(&Config{Output: filepath.Join(t.TempDir(), "missing", "app.log")})
	assert.Error(t, err)

	assert.Equal(t, InfoLevel, ParseLevel("verbose"))
}

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer
	z := NewZapLogger(New(InfoLevel, &buf)).Named("driver").With(zap.String("run", "r1"))

	z.Debug("hidden")
	z.Info("iteration", zap.Int("iteration", 3), zap.Float64("best_cost", 0.125), zap.Bool("feasible", true))
	z.Error("failed", zap.Error(errors.New("diverged")))

	entries := decode(t, &buf)
	require.Len(t, entries, 2)

	e := entries[0]
	assert.Equal(t, "INFO", e["level"])
	assert.Equal(t, "r1", e["run"])
	assert.Equal(t, "driver", e["logger"])
	assert.Equal(t, 3.0, e["iteration"])
	assert.Equal(t, 0.125, e["best_cost"])
	assert.Equal(t, true, e["feasible"])
	assert.Contains(t, e["caller"], "logging/logging_test.go")

	assert.Equal(t, "ERROR", entries[1]["level"])
	assert.Equal(t, "diverged", entries[1]["error"])
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(Middleware(New(InfoLevel, &buf)))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside")
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/bad", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	})

	for _, path := range []string{"/ok", "/bad"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := decode(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "inside", entries[0]["message"])
	assert.Equal(t, "/ok", entries[0]["path"])
	assert.Equal(t, 204.0, entries[1]["status"])
	assert.Equal(t, "WARN", entries[2]["level"])
	assert.Equal(t, "Bad Request", entries[2]["error"])
}
