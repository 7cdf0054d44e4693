package spawn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	loc := Location{Origin: "http://example.test", BasePath: "http://example.test/app/"}

	tests := []struct {
		id   string
		want string
	}{
		{"lib/x.js", "http://example.test/app/lib/x.js"},
		{"/lib/x.js", "http://example.test/lib/x.js"},
		{"https://cdn/x.js", "https://cdn/x.js"},
		{"//cdn.test/x.js", "http://cdn.test/x.js"},
		{"blob:http://example.test/1234", "blob:http://example.test/1234"},
		{"data:text/javascript,1", "data:text/javascript,1"},
		{"../up.js", "http://example.test/app/../up.js"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, loc.Resolve(tt.id))
		})
	}
}

func TestResolveAllKeepsOrder(t *testing.T) {
	loc := Location{Origin: "https://h", BasePath: "https://h/base/"}
	assert.Equal(t,
		[]string{"https://h/base/a.js", "https://h/b.js"},
		loc.ResolveAll([]string{"a.js", "/b.js"}))
}

func TestParseLocation(t *testing.T) {
	loc, err := ParseLocation("http://example.test:8080/app/index.html?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://example.test:8080", loc.Origin)
	assert.Equal(t, "http://example.test:8080/app/", loc.BasePath)

	loc, err = ParseLocation("https://example.test")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/", loc.BasePath)

	_, err = ParseLocation("relative/path")
	assert.Error(t, err)
}

func TestCurrentLocation(t *testing.T) {
	loc := CurrentLocation()
	assert.Equal(t, "file://", loc.Origin)
	assert.True(t, strings.HasPrefix(loc.BasePath, "file:///"))
	assert.True(t, strings.HasSuffix(loc.BasePath, "/"))
	assert.Equal(t, "file:///lib/x.js", loc.Resolve("/lib/x.js"))
}
