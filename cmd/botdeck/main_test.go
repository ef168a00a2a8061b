package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandLayout(t *testing.T) {
	root := newRootCmd()

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "migrate")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.RunE, "serve is the default command")
}

func TestMigrateCreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "botdeck.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  path: "+dbPath+"\nlog:\n  level: error\n"), 0o600))

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config", cfgPath})
	require.NoError(t, root.Execute())

	_, err := os.Stat(dbPath)
	assert.NoError(t, err)
}

func TestMigrateRejectsInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  level: loud\n"), 0o600))

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--config", cfgPath})
	assert.Error(t, root.Execute())
}
