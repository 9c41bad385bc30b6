package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/internal/driver"
	"fleetsync/internal/events"
	"fleetsync/internal/localstore"
	"fleetsync/internal/logger"
	"fleetsync/internal/syncagent"
)

func newOfflineShell(t *testing.T) (*shell, *bytes.Buffer) {
	t.Helper()
	log := logger.Discard()

	// Nothing listens on port 1, every request fails fast
	client, err := syncagent.NewClient("http://127.0.0.1:1", "", 500*time.Millisecond)
	require.NoError(t, err)

	store := localstore.New(nil, "fleetsync", log)
	bus := events.NewBus()
	agent := syncagent.New(store, client, bus, log, syncagent.Options{})
	ctrl := driver.New("D1", store, agent, bus, log)

	out := &bytes.Buffer{}
	return &shell{ctrl: ctrl, agent: agent, store: store, out: out}, out
}

func TestShell_DriverSessionOffline(t *testing.T) {
	sh, out := newOfflineShell(t)
	script := strings.Join([]string{
		"login Alice 52.52 13.405",
		"fuel 40",
		"fuel 140",
		"status",
		"bogus",
		"quit",
		"fuel 10",
	}, "\n")

	require.NoError(t, sh.Run(context.Background(), strings.NewReader(script)))

	text := out.String()
	assert.Contains(t, text, "👋 Alice is stationary")
	assert.Contains(t, text, "D1: stationary, active, fuel 40%")
	assert.Contains(t, text, "fuel level must be between 0 and 100")
	assert.Contains(t, text, "pending=1")
	assert.Contains(t, text, `unknown command "bogus"`)
	assert.NotContains(t, text, "fuel 10%", "nothing runs after quit")
}

func TestShell_UsageErrors(t *testing.T) {
	sh, _ := newOfflineShell(t)
	ctx := context.Background()

	assert.EqualError(t, sh.exec(ctx, "login", []string{"Alice"}), "usage: login <name> <lat> <lng>")
	assert.ErrorContains(t, sh.exec(ctx, "loc", []string{"north", "13.4"}), "latitude")
	assert.ErrorIs(t, sh.exec(ctx, "toggle", nil), driver.ErrUnknownDriver)
}
