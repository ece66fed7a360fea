// SPDX-License-Identifier: GPL-3.0-or-later

package names

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	cases := []struct{ in, out string }{
		{"/a//b", "/a/b"},
		{"/a/b/", "/a/b"},
		{"/", "/"},
		{"a///b///c", "a/b/c"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.out, Clean(c.in), "Clean(%q)", c.in)
	}
}

func TestAppend(t *testing.T) {
	assert.Equal(t, "/a/b", Append("/a", "b"))
	assert.Equal(t, "/a/b", Append("/a/", "/b"))
	assert.Equal(t, "/b", Append("", "b"))
}

func TestResolveScenarioS1(t *testing.T) {
	remap := map[string]string{
		"/a/bar": "/a/bar", // unused placeholder to show remap keys are fully-qualified
	}
	remap = map[string]string{
		"/a/foo": "/a/bar",
		"/qux":   "/qux",
	}
	ns := "/a"
	callerName := "/a/talker"

	assert.Equal(t, "/a/bar", Resolve(ns, "foo", true, remap, callerName))
	assert.Equal(t, "/qux", Resolve(ns, "~baz", true, map[string]string{"/a/talker/baz": "/qux"}, callerName))
	assert.Equal(t, "/a/unrelated", Resolve(ns, "unrelated", true, remap, callerName))
}

func TestResolveIdempotent(t *testing.T) {
	remap := map[string]string{"/a/foo": "/a/bar"}
	ns, callerName := "/a", "/a/talker"
	for _, n := range []string{"foo", "~baz", "/global/name", "plain"} {
		once := Resolve(ns, n, true, remap, callerName)
		twice := Resolve(ns, once, true, remap, callerName)
		assert.Equal(t, once, twice, "resolve should be idempotent for %q", n)
	}
}

func TestResolveNoRemap(t *testing.T) {
	remap := map[string]string{"/a/foo": "/a/bar"}
	assert.Equal(t, "/a/foo", Resolve("/a", "foo", false, remap, "/a/talker"))
}
