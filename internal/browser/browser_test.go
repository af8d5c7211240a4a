package browser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	assert.True(t, opts.Headless)
	assert.True(t, opts.DisableSearchEngineChoice)
	assert.Equal(t, DefaultNavigationTimeout, opts.NavTimeout())
}

func TestNavTimeoutFallsBackToDefault(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultNavigationTimeout, Options{}.NavTimeout())
	assert.Equal(t, DefaultNavigationTimeout, Options{NavigationTimeout: -time.Second}.NavTimeout())
	assert.Equal(t, 5*time.Second, Options{NavigationTimeout: 5 * time.Second}.NavTimeout())
}
