package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, Info{Host: "0.0.0.0", Port: 8080, URL: "http://0.0.0.0:8080"}))

	data, err := os.ReadFile(filepath.Join(dir, "captain.json"))
	require.NoError(t, err)

	var got Info
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 8080, got.Port)
}

func TestRemoveMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Remove(dir))
}
