// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)
	for input, want := range map[string]string{
		"":               "",
		"/tmp/x":         "/tmp/x",
		"~":              usr.HomeDir,
		"~/cache/x.json": path.Join(usr.HomeDir, "cache/x.json"),
	} {
		got, err := ReplaceTildeInDir(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}
	_, err = ReplaceTildeInDir("~no_such_user_here/x")
	require.Error(t, err)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	filePath := path.Join(dir, "info.json")
	require.NoError(t, os.WriteFile(filePath, []byte(`{"vars": {}}`), 0o644))

	exists, err := FileExists(filePath)
	require.NoError(t, err)
	require.True(t, exists)
	content, err := ReadFile(filePath)
	require.NoError(t, err)
	require.Equal(t, `{"vars": {}}`, string(content))

	_, err = ReadFile(path.Join(dir, "missing.json"))
	require.ErrorContains(t, err, "not found")
}
