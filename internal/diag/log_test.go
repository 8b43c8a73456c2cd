package diag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWithTraceFansOutToJSONFile(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "trace.json")
	l, err := NewLoggerWithTrace(tracePath)
	require.NoError(t, err)

	l.DeclLowered("function", "main")
	l.SectionEmitted(".text", 64)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "lowered declaration")
	assert.Contains(t, content, "main")
	assert.Contains(t, content, "emitted section")
}

func TestNewLoggerCloseIsNoopWithoutTrace(t *testing.T) {
	l := NewLogger()
	assert.NoError(t, l.Close())
}
