package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "level %q", input)
	}
}

func TestNew_FormatFollowsEnvironment(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		format      string
		wantJSON    bool
	}{
		{name: "production is json", environment: "production", wantJSON: true},
		{name: "development is pretty", environment: "development"},
		{name: "staging is pretty", environment: "staging"},
		{name: "explicit format wins", environment: "production", format: formatPretty},
		{name: "explicit json in development", environment: "development", format: formatJSON, wantJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Writer: &buf, Environment: tt.environment, Format: tt.format})
			logger.Info("root ready", "root", "/src", "files", 3)

			var record map[string]any
			err := json.Unmarshal(buf.Bytes(), &record)
			if !tt.wantJSON {
				assert.Error(t, err, buf.String())
				assert.Contains(t, buf.String(), "root=/src")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "root ready", record["msg"])
			assert.Equal(t, "/src", record["root"])
			assert.EqualValues(t, 3, record["files"])
		})
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: formatJSON, Level: slog.LevelWarn})

	logger.Info("crawl finished")
	logger.Warn("crawl entry error", "path", "a/b")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "crawl entry error")
}

func TestNew_SourceIsShortened(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Writer: &buf, Format: formatJSON, AddSource: true})
	logger.Info("here")

	var record struct {
		Source struct {
			File string `json:"file"`
		} `json:"source"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "logger_test.go", record.Source.File)
}

func TestNew_FileTee(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "treewatchd.log")

	logger := New(Config{
		Level:  slog.LevelInfo,
		Format: formatPretty,
		Writer: &buf,
		File:   FileConfig{Path: path, MaxSizeMB: 1},
	})
	logger.With("root", "/src").Info("watching root", "epoch", 7)
	logger.Debug("dropped everywhere")
	require.NoError(t, logger.Close())

	assert.Contains(t, buf.String(), "watching root")
	assert.Contains(t, buf.String(), "root=/src")
	assert.NotContains(t, buf.String(), "dropped everywhere")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"watching root"`)
	assert.Contains(t, string(data), `"root":"/src"`)
	assert.Contains(t, string(data), `"epoch":7`)
	assert.NotContains(t, string(data), "dropped everywhere")
}

func TestNew_FileTeeKeepsGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treewatchd.log")
	logger := New(Config{Writer: &bytes.Buffer{}, File: FileConfig{Path: path}})

	logger.WithGroup("query").Info("since", "cursor", "n:x")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"query":{"cursor":"n:x"}`)
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger := New(Config{Writer: &bytes.Buffer{}})
	assert.NoError(t, logger.Close())
}

func TestPrettyHandler_Line(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.Warn("event source overflowed", "root", "/src", "recrawls", 2)

	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "WRN")
	assert.Contains(t, line, "event source overflowed")
	assert.Contains(t, line, "root=/src")
	assert.Contains(t, line, "recrawls=2")
}

func TestPrettyHandler_GroupQualifiesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.With("root", "/src").WithGroup("query").Info("since", "cursor", "n:x")

	output := buf.String()
	assert.Contains(t, output, "root=/src")
	assert.Contains(t, output, "query.cursor=n:x")
}

func TestPrettyHandler_NilOptionsDefaultToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
