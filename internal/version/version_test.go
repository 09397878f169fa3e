package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsAreNotEmpty(t *testing.T) {
	v, c, d := Info()
	assert.NotEmpty(t, v)
	assert.NotEmpty(t, c)
	assert.NotEmpty(t, d)
}

func TestAccessorsMatchInfo(t *testing.T) {
	v, c, d := Info()
	assert.Equal(t, v, GetVersion())
	assert.Equal(t, c, GetCommit())
	assert.Equal(t, d, GetDate())
	assert.Equal(t, Build{Version: v, Commit: c, Date: d}, Current())
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		assert.True(t, strings.Contains(s, part), "missing %q in %q", part, s)
	}
}

func TestLdflagsOverride(t *testing.T) {
	old := version
	t.Cleanup(func() { version = old })

	version = "v1.2.3"
	assert.Equal(t, "v1.2.3", Current().Version)
}
