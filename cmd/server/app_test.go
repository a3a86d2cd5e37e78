package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointdist/internal/platform/config"
)

func TestBuildApp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("memory", func(t *testing.T) {
		a, err := buildApp(context.Background(), config.Default(), logger)
		require.NoError(t, err)
		defer a.Close()

		assert.Empty(t, a.checks)
		_, err = a.members.Register(context.Background(), "group-1", "", "member1@example.com")
		assert.NoError(t, err)
	})

	t.Run("sqlite file", func(t *testing.T) {
		cfg := config.Default()
		cfg.Database.Driver = config.DriverSQLite
		cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "pointdist.db")

		a, err := buildApp(context.Background(), cfg, logger)
		require.NoError(t, err)
		defer a.Close()

		require.Contains(t, a.checks, "database")
		assert.NoError(t, a.checks["database"](context.Background()))
		_, err = a.members.Register(context.Background(), "group-1", "", "member1@example.com")
		assert.NoError(t, err)
	})

	t.Run("bad directory url", func(t *testing.T) {
		cfg := config.Default()
		cfg.Directory.BaseURL = "not a url"
		_, err := buildApp(context.Background(), cfg, logger)
		assert.Error(t, err)
	})
}

func TestConfigFromContext(t *testing.T) {
	_, err := configFrom(context.Background())
	assert.Error(t, err)

	ctx := context.WithValue(context.Background(), configKey{}, config.Default())
	cfg, err := configFrom(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.Database.Driver)
}

func TestFinalizeCommandRequiresFlags(t *testing.T) {
	cmd := finalizeCommand()
	cmd.SetContext(context.WithValue(context.Background(), configKey{}, config.Default()))
	cmd.SetArgs([]string{"--group", "group-1"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	assert.Error(t, cmd.Execute())
}

func TestFinalizeCommandReportsMissingWeek(t *testing.T) {
	cmd := finalizeCommand()
	cmd.SetArgs([]string{"--group", "group-1", "--week", "2026-10-12"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	// memory backend: nothing was submitted, so the week is stale or not found
	err := cmd.ExecuteContext(context.WithValue(context.Background(), configKey{}, config.Default()))
	assert.Error(t, err)
}
