package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaultsToASAndLD(t *testing.T) {
	var cfg Config
	assert.Equal(t, "as", cfg.assembler())
	assert.Equal(t, "ld", cfg.linker())
}

func TestConfigHonorsExplicitOverrides(t *testing.T) {
	cfg := Config{Assembler: "/opt/cross/as", Linker: "/opt/cross/ld"}
	assert.Equal(t, "/opt/cross/as", cfg.assembler())
	assert.Equal(t, "/opt/cross/ld", cfg.linker())
}

func TestRunSucceedsOnZeroExit(t *testing.T) {
	assert.NoError(t, run("/bin/true"))
}

func TestRunReportsExitStatusOnNonZeroExit(t *testing.T) {
	err := run("/bin/false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestRunWrapsLookupErrorForMissingProgram(t *testing.T) {
	err := run("/no/such/program-kestrelc-toolchain-test")
	assert.Error(t, err)
}
