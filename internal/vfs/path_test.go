package vfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		path string
		cwd  string
		want string
	}{
		{"absolute", "/a/b", "/x", "/a/b"},
		{"relative", "b/c", "/a", "/a/b/c"},
		{"empty resolves to cwd", "", "/home/user", "/home/user"},
		{"dot segments", "/a/./b/.", "/", "/a/b"},
		{"repeated slashes", "//a///b//", "/", "/a/b"},
		{"parent segment", "/a/b/../c", "/", "/a/c"},
		{"root clamp", "/../../x", "/", "/x"},
		{"relative clamp", "../../..", "/a", "/"},
		{"relative parent", "../c", "/a/b", "/a/c"},
		{"root", "/", "/a", "/"},
		{"trailing slash", "/a/b/", "/", "/a/b"},
		{"backslash is literal", `a\b`, "/", `/a\b`},
		{"dots inside names", "/a/..b/c.", "/", "/a/..b/c."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.path, tt.cwd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeInvalid(t *testing.T) {
	tests := []struct {
		name string
		path string
		cwd  string
	}{
		{"null byte", "/a\x00b", "/"},
		{"too long", "/" + strings.Repeat("a/", MaxPathLength/2+1), "/"},
		{"null byte in cwd", "rel", "/a\x00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.path, tt.cwd)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"", "/", ".", "..", "a", "/a/b/../../..", "a//b/./c/", "../x/./y/..", "/mnt/ab/file",
	}
	for _, cwd := range []string{"/", "/home/user", "/a/b/c"} {
		for _, p := range inputs {
			once, err := Normalize(p, cwd)
			require.NoError(t, err)
			twice, err := Normalize(once, cwd)
			require.NoError(t, err)
			assert.Equal(t, once, twice, "path %q cwd %q", p, cwd)
		}
	}
}

func TestPathHelpers(t *testing.T) {
	assert.True(t, IsWithin("/mnt/a/file", "/mnt/a"))
	assert.True(t, IsWithin("/mnt/a", "/mnt/a"))
	assert.True(t, IsWithin("/anything", "/"))
	assert.False(t, IsWithin("/mnt/ab", "/mnt/a"))

	assert.Equal(t, "/file", RelativeTo("/mnt/a/file", "/mnt/a"))
	assert.Equal(t, "/", RelativeTo("/mnt/a", "/mnt/a"))
	assert.Equal(t, "/mnt", Parent("/mnt/a"))
	assert.Equal(t, "/", Parent("/"))
	assert.Equal(t, "a", Base("/mnt/a"))
}
