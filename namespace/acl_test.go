package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dlog/errors"
)

func TestAccessControlDefaultPermissive(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{})
	n := env.build(t)

	acl, err := n.CreateAccessControlManager()
	require.NoError(t, err)
	assert.True(t, acl.AllowWrite("orders-eu"))
	assert.True(t, acl.AllowRead("orders-eu"))
	assert.True(t, acl.AllowDelete("orders-eu"))

	again, err := n.CreateAccessControlManager()
	require.NoError(t, err)
	assert.Equal(t, acl, again)
}

func TestAccessControlRejectsNonReservedRoot(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{ACLRootPath: "acl"})
	n := env.build(t)

	_, err := n.CreateAccessControlManager()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestAccessControlStoreBacked(t *testing.T) {
	env := newTestEnv(t)
	env.seedBinding(t, Binding{ACLRootPath: ".acl"})
	env.metaStore().Seed("/messaging/orders/.acl/orders-eu", []byte(`{"deny_write":true}`))
	n := env.build(t)

	acl, err := n.CreateAccessControlManager()
	require.NoError(t, err)

	// Memoized for the namespace's lifetime.
	again, err := n.CreateAccessControlManager()
	require.NoError(t, err)
	assert.Same(t, acl, again)

	assert.False(t, acl.AllowWrite("orders-eu"))
	assert.True(t, acl.AllowRead("orders-eu"))
	assert.True(t, acl.AllowDelete("orders-eu"))

	// Streams without an entry are permitted everything.
	assert.True(t, acl.AllowWrite("orders-us"))
}
