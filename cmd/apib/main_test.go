package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRootCommandFlagDefaults(t *testing.T) {
	cmd := newRootCommand()

	concurrency, err := cmd.Flags().GetInt("concurrency")
	require.NoError(t, err)
	require.Equal(t, 1, concurrency)

	duration, err := cmd.Flags().GetDuration("duration")
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, duration)

	printInterval, err := cmd.Flags().GetDuration("print-interval")
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, printInterval)

	once, err := cmd.Flags().GetBool("one")
	require.NoError(t, err)
	require.False(t, once)
}

func TestRootCommandRejectsMissingURL(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	require.Error(t, cmd.Execute())
}

func TestRootCommandRejectsBadHeaderFlag(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"http://127.0.0.1:1/hello", "-H", "no-colon-here", "-1"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	require.Error(t, cmd.Execute())
}
