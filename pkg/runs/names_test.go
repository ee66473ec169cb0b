package runs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-sh/windrose/pkg/types"
)

// TestRunNameBaseAlwaysValid tests that generated bases survive the run
// name rule regardless of what the dictionary yields
func TestRunNameBaseAlwaysValid(t *testing.T) {
	for i := 0; i < 100; i++ {
		base := runNameBase()
		require.NoError(t, types.ValidateRunName(base+"-1"), "base %q", base)
	}
}

// TestNextRunNamePicksSmallestFreeIndex tests index probing against taken
// and retired names
func TestNextRunNamePicksSmallestFreeIndex(t *testing.T) {
	env := newTestEnv(t)

	name, err := env.service.nextRunName("p1", "wet-mango")
	require.NoError(t, err)
	assert.Equal(t, "wet-mango-1", name)

	env.submit(taskSpec("wet-mango-1"))
	env.submit(taskSpec("wet-mango-2"))

	name, err = env.service.nextRunName("p1", "wet-mango")
	require.NoError(t, err)
	assert.Equal(t, "wet-mango-3", name)

	// A deleted run frees its name for the generator too.
	run := env.getRunByName("wet-mango-1")
	env.updateRun(run.ID, func(r *types.Run) {
		r.Status = types.RunStatusDone
	})
	require.NoError(t, env.service.Delete("p1", []string{"wet-mango-1"}))

	name, err = env.service.nextRunName("p1", "wet-mango")
	require.NoError(t, err)
	assert.Equal(t, "wet-mango-1", name)
}

// TestSanitizeNameWord tests the dictionary word cleanup
func TestSanitizeNameWord(t *testing.T) {
	assert.Equal(t, "wellmade", sanitizeNameWord("Well-Made"))
	assert.Equal(t, "caf", sanitizeNameWord("café"))
	assert.Equal(t, "x42", sanitizeNameWord("X 42!"))
	assert.Equal(t, "", sanitizeNameWord("---"))
}
