package main

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"fleetsync/internal/config"
)

func TestBuildEntries_RoundTripsThroughServerConfig(t *testing.T) {
	entries, err := buildEntries([]string{"alice", "ops"}, "", bcrypt.MinCost, strings.NewReader("pw1\npw2\n"))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	v := viper.New()
	v.Set("AUTH_USERS", strings.Join(entries, ","))
	cfg, err := config.LoadServer(v)
	require.NoError(t, err)

	require.Contains(t, cfg.AuthUsers, "alice")
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cfg.AuthUsers["alice"]), []byte("pw1")))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cfg.AuthUsers["ops"]), []byte("pw2")))
}

func TestBuildEntries_Errors(t *testing.T) {
	_, err := buildEntries([]string{"alice", "bob"}, "", bcrypt.MinCost, strings.NewReader("only-one\n"))
	assert.ErrorContains(t, err, "no password on stdin for bob")

	_, err = authEntry("a:b", "pw", bcrypt.MinCost)
	assert.Error(t, err)
	_, err = authEntry("alice", "", bcrypt.MinCost)
	assert.Error(t, err)
}
