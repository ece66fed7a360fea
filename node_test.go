// SPDX-License-Identifier: GPL-3.0-or-later

package roscore

import (
	"context"
	"testing"

	"github.com/rosgo/roscore/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptorForTest() wire.Descriptor {
	return wire.Descriptor{DataType: "std_msgs/String", MD5: "*"}
}

// S1 from the end-to-end scenarios: CLI remappings and specials resolve
// the node name and every subsequent Resolve call consistently.
func TestInitAppliesRemappingsAndSpecials(t *testing.T) {
	cfg := &Config{MasterURI: "http://localhost:11311"}
	argv := []string{"my_node", "foo:=bar", "~baz:=/qux", "__name:=talker", "__ns:=/a"}

	n, rest, err := Init(cfg, argv)
	require.NoError(t, err)
	assert.Equal(t, []string{"my_node"}, rest)

	assert.Equal(t, "/a/talker", n.Name())
	assert.Equal(t, "/a/bar", n.Resolve("foo"))
	assert.Equal(t, "/qux", n.Resolve("~baz"))
	assert.Equal(t, "/a/unrelated", n.Resolve("unrelated"))
}

func TestInitRequiresNodeName(t *testing.T) {
	_, _, err := Init(&Config{MasterURI: "http://localhost:11311"}, nil)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestInitRequiresMasterURI(t *testing.T) {
	_, _, err := Init(&Config{}, []string{"__name:=talker"})
	assert.ErrorIs(t, err, ErrInvalidName)
}

// Property 5: after Shutdown returns, ok() is false even if Start was
// never called.
func TestShutdownBeforeStartMakesNodeNotOk(t *testing.T) {
	n, _, err := Init(&Config{MasterURI: "http://localhost:11311"}, []string{"__name:=talker"})
	require.NoError(t, err)
	assert.True(t, n.ok())

	require.NoError(t, n.Shutdown(context.Background()))
	assert.False(t, n.ok())

	// Idempotent: a second Shutdown call is a harmless no-op.
	require.NoError(t, n.Shutdown(context.Background()))
}

func TestOperationsFailAfterShutdown(t *testing.T) {
	n, _, err := Init(&Config{MasterURI: "http://localhost:11311"}, []string{"__name:=talker"})
	require.NoError(t, err)
	require.NoError(t, n.Shutdown(context.Background()))

	_, err = n.Advertise(context.Background(), "chatter", descriptorForTest(), false)
	assert.ErrorIs(t, err, ErrShutdown)

	_, err = n.Subscribe(context.Background(), "chatter", descriptorForTest(), nil, 0, func(any) {})
	assert.ErrorIs(t, err, ErrShutdown)

	_, err = n.Call(context.Background(), "add_two_ints", "*", nil)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestDefaultPanicsBeforeInitDefault(t *testing.T) {
	defer func() {
		r := recover()
		assert.NotNil(t, r)
	}()
	// Only meaningful if InitDefault has never run in this test binary;
	// guarded implicitly by sync.OnceValue's own single evaluation.
	if defaultNode != nil {
		t.Skip("a prior test already called InitDefault in this process")
	}
	Default()
}
