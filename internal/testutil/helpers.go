package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CreateDummyFile creates a file with the given content, ensuring parent
// directories exist. Failures abort the test.
func CreateDummyFile(t *testing.T, path string, content string) {
	t.Helper()
	fullPath := filepath.Clean(path)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755),
		"Failed to create directory for dummy file %s", fullPath)
	require.NoError(t, os.WriteFile(fullPath, []byte(content), 0o644),
		"Failed to write dummy file %s", fullPath)
}

// CreateDummyDir ensures a directory exists, creating parents if needed.
func CreateDummyDir(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Clean(path), 0o755),
		"Failed to create dummy directory %s", path)
}
