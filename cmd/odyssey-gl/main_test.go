package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"serve"},
		{"worker"},
		{"migrate", "up"},
		{"migrate", "down"},
		{"rules", "list"},
		{"periods", "lock"},
		{"periods", "unlock"},
		{"jobs", "trigger"},
		{"jobs", "release"},
		{"jobs", "stats"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestMigrateDownDefaultsToOneStep(t *testing.T) {
	root := newRootCommand()
	down, _, err := root.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	require.Equal(t, "1", down.Flags().Lookup("steps").DefValue)

	up, _, err := root.Find([]string{"migrate", "up"})
	require.NoError(t, err)
	require.Equal(t, "0", up.Flags().Lookup("steps").DefValue)
}

func TestPeriodLockRequiresID(t *testing.T) {
	root := newRootCommand()
	lock, _, err := root.Find([]string{"periods", "lock"})
	require.NoError(t, err)
	require.Error(t, lock.Args(lock, nil))
}
