package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePattern = regexp.MustCompile(`^\[(DEBUG|INFO|WARN|ERROR)\] +\d{2}:\d{2}:\d{2} `)

func TestCompactFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, slog.LevelDebug)

	log.Info("build complete", "modules", 7, "cached", true)

	line := buf.String()
	assert.Regexp(t, linePattern, line)
	assert.Contains(t, line, "build complete | modules=7 cached=true")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestCompactNoAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	New(&buf, slog.LevelInfo).Info("plain message")

	assert.NotContains(t, buf.String(), "|")
}

func TestErrorValuesAreQuoted(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo)

	log.Warn("cache write failed", "error", errors.New("disk full: no space"))
	assert.Contains(t, buf.String(), `error="disk full: no space"`)
}

func TestStringQuotingOnlyWhenNeeded(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo)

	log.Info("m", "id", "pkg.mod", "msg", "has spaces")
	line := buf.String()
	assert.Contains(t, line, "id=pkg.mod")
	assert.Contains(t, line, `msg="has spaces"`)
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, slog.LevelWarn)

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[WARN]")
	assert.Contains(t, lines[0], "shown")
}

func TestWithAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo).With("component", "watch")

	log.Info("started")
	assert.Contains(t, buf.String(), "started | component=watch")
}
