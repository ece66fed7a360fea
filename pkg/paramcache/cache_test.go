// SPDX-License-Identifier: GPL-3.0-or-later

package paramcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGetDelete(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("/gain", 1.5))

	v, ok := c.Get("/gain")
	require.True(t, ok)
	assert.Equal(t, 1.5, v)

	require.NoError(t, c.Delete("/gain"))
	_, ok = c.Get("/gain")
	assert.False(t, ok)
}

func TestCacheKeysFiltersByPrefix(t *testing.T) {
	c := New()
	require.NoError(t, c.Set("/robot/gain", 1))
	require.NoError(t, c.Set("/robot/speed", 2))
	require.NoError(t, c.Set("/other/gain", 3))

	keys := c.Keys("/robot/")
	assert.ElementsMatch(t, []string{"/robot/gain", "/robot/speed"}, keys)
}

func TestCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.db")

	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Set("/gain", 2.0))
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	v, ok := c2.Get("/gain")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}

func TestLoadSeedFilePopulatesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gain: 1.25\nname: bumblebee\n"), 0o600))

	c := New()
	require.NoError(t, LoadSeedFile(c, path))

	v, ok := c.Get("gain")
	require.True(t, ok)
	assert.InDelta(t, 1.25, v, 0.0001)

	v, ok = c.Get("name")
	require.True(t, ok)
	assert.Equal(t, "bumblebee", v)
}
