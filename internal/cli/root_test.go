package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "remindr", cmd.Use)
	assert.Contains(t, cmd.Long, "tier")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(&RootOptions{})
	commands := []string{
		"add", "list", "show", "update", "delete", "purge",
		"stats", "export", "import", "clear", "prefs",
		"info", "health", "probe", "schema",
	}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(&RootOptions{})

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "data-dir", "owner"} {
		flag := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, name)
		assert.Equal(t, "", flag.DefValue)
	}
}

func TestAddCommandFlags(t *testing.T) {
	cmd := NewRootCommand(&RootOptions{})
	addCmd, _, err := cmd.Find([]string{"add"})
	require.NoError(t, err)

	titleFlag := addCmd.Flags().Lookup("title")
	require.NotNil(t, titleFlag)
	assert.Equal(t, "t", titleFlag.Shorthand)

	priorityFlag := addCmd.Flags().Lookup("priority")
	require.NotNil(t, priorityFlag)
	assert.Equal(t, "2", priorityFlag.DefValue)

	alertFlag := addCmd.Flags().Lookup("alert")
	require.NotNil(t, alertFlag)
	assert.Equal(t, "[15]", alertFlag.DefValue)
}

func TestListCommandFlags(t *testing.T) {
	cmd := NewRootCommand(&RootOptions{})
	listCmd, _, err := cmd.Find([]string{"list"})
	require.NoError(t, err)

	sortFlag := listCmd.Flags().Lookup("sort")
	require.NotNil(t, sortFlag)
	assert.Equal(t, "due", sortFlag.DefValue)

	dirFlag := listCmd.Flags().Lookup("dir")
	require.NotNil(t, dirFlag)
	assert.Equal(t, "asc", dirFlag.DefValue)
}

func TestPrefsSubcommands(t *testing.T) {
	cmd := NewRootCommand(&RootOptions{})
	for _, name := range []string{"get", "set"} {
		sub, _, err := cmd.Find([]string{"prefs", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}
