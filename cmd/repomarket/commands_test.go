package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ksred/klear-repo/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandHasRoles(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"all", "operator", "ccp", "paymentProcessor", "tradingParticipant"}, names)
}

func TestTradingParticipantRequiresKnownParty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trading_parties:\n  - name: Alice\n    port: 9010\n"), 0o600))

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", path, "tradingParticipant", "Carol"})
	err := cmd.Execute()
	assert.ErrorIs(t, err, market.ErrUnknownParty)
}

func TestTradingParticipantArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"tradingParticipant"})
	assert.Error(t, cmd.Execute())

	cmd = newRootCommand()
	cmd.SetArgs([]string{"ccp", "extra"})
	assert.Error(t, cmd.Execute())
}

func TestMissingConfigFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "ccp"})
	assert.Error(t, cmd.Execute())
}
