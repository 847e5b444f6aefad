package vfs

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinks(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.Mkdir(ctx, "/home/user"))
	require.NoError(t, m.Write(ctx, "/home/user/real.txt", Text("real")))
	require.NoError(t, m.Cd(ctx, "/home/user"))

	require.NoError(t, m.Link(ctx, "real.txt", "shortcut"))

	target, err := m.Readlink(ctx, "/home/user/shortcut")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/real.txt", target)

	raw, err := m.Read(ctx, "shortcut")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, linkMagic), "read does not follow links")

	entries, err := m.List(ctx, ".", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"real.txt", "shortcut"}, names(entries))

	require.NoError(t, m.Unlink(ctx, "shortcut"))
	ok, err := m.Exists(ctx, "shortcut")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Exists(ctx, "real.txt")
	require.NoError(t, err)
	assert.True(t, ok, "unlink leaves the target alone")
}

func TestLinkErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	require.NoError(t, m.Mkdir(ctx, "/dir"))
	require.NoError(t, m.Write(ctx, "/plain.txt", Text("not a link")))

	_, err := m.Readlink(ctx, "/plain.txt")
	assert.ErrorIs(t, err, ErrNotALink)
	_, err = m.Readlink(ctx, "/dir")
	assert.ErrorIs(t, err, ErrNotALink)
	_, err = m.Readlink(ctx, "/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Unlink(ctx, "/plain.txt"), ErrNotALink)
	ok, err := m.Exists(ctx, "/plain.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, m.Link(ctx, "/target", "/no/such/dir/link"), ErrNotFound)
}

func TestLinkCodec(t *testing.T) {
	target, ok := DecodeLink(EncodeLink("/a/b"))
	require.True(t, ok)
	assert.Equal(t, "/a/b", target)

	for _, data := range [][]byte{
		nil,
		[]byte("plain"),
		linkMagic,
		append(append([]byte{}, linkMagic...), "relative"...),
		[]byte(strings.TrimSuffix(string(linkMagic), "\n") + "/a"),
	} {
		_, ok := DecodeLink(data)
		assert.False(t, ok, "%q", data)
	}
}

func TestContent(t *testing.T) {
	c, err := FromReader(strings.NewReader("streamed"))
	require.NoError(t, err)
	assert.True(t, c.IsBinary())
	assert.Equal(t, []byte("streamed"), c.Bytes())
	assert.Equal(t, 8, c.Len())

	assert.False(t, Text("x").IsBinary())
	assert.Equal(t, []byte{}, Binary(nil).Bytes())
	assert.True(t, ValidText([]byte("héllo")))
	assert.False(t, ValidText([]byte{0xff, 0xfe}))
}
