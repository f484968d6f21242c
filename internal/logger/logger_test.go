package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandler_WritesLevelMessageAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: slog.LevelDebug, NoColor: true})

	log.Info("gallery loaded", "items", 3)

	require.Equal(t, "INFO  gallery loaded items=3\n", buf.String())
}

func TestHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: slog.LevelWarn, NoColor: true})

	log.Info("dropped")
	log.Warn("kept")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "WARN  kept")
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{NoColor: true}).With("component", "assetcache").WithGroup("req")

	log.Error("cache put failed", Err(errors.New("disk full")))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, "ERROR cache put failed"), out)
	require.Contains(t, out, " component=assetcache")
	require.Contains(t, out, "req.err=disk full")
}

func TestErr_Nil(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{NoColor: true})

	log.Info("ok", Err(nil))

	require.Equal(t, "INFO  ok\n", buf.String())
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestDuration(t *testing.T) {
	require.Equal(t, "1500ms", Duration("took", 1500*time.Millisecond).Value.String())
}
