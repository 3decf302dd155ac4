package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanView(t *testing.T) {
	o := &Order{ID: "o1", UserID: "alice"}

	assert.True(t, CanView(o, Principal{UserID: "alice", Role: RoleCustomer}))
	assert.False(t, CanView(o, Principal{UserID: "bob", Role: RoleCustomer}))
	assert.True(t, CanView(o, Principal{UserID: "staff", Role: RoleAdmin}))
	assert.False(t, CanView(o, Principal{}))
	// a role without an identity is still anonymous
	assert.False(t, CanView(o, Principal{Role: RoleAdmin}))
}

func TestAuthorizeView(t *testing.T) {
	o := &Order{ID: "o1", UserID: "alice"}

	assert.ErrorIs(t, authorizeView(nil, Principal{}), ErrNotFound)
	assert.ErrorIs(t, authorizeView(nil, Principal{UserID: "bob"}), ErrNotFound)
	assert.ErrorIs(t, authorizeView(o, Principal{}), ErrUnauthenticated)
	assert.ErrorIs(t, authorizeView(o, Principal{UserID: "bob"}), ErrForbidden)
	assert.NoError(t, authorizeView(o, Principal{UserID: "alice"}))
}

func TestVisibleFilter(t *testing.T) {
	f := VisibleFilter(Principal{UserID: "bob"}, ListFilter{UserID: "alice", Status: StatusShipped})
	assert.Equal(t, ListFilter{UserID: "bob", Status: StatusShipped}, f)

	f = VisibleFilter(Principal{UserID: "staff", Role: RoleAdmin}, ListFilter{})
	assert.Equal(t, ListFilter{}, f)
}

func TestAuthorizeMutation(t *testing.T) {
	assert.ErrorIs(t, authorizeMutation(Principal{}), ErrUnauthenticated)
	assert.ErrorIs(t, authorizeMutation(Principal{UserID: "alice", Role: RoleCustomer}), ErrForbidden)
	assert.NoError(t, authorizeMutation(Principal{UserID: "staff", Role: RoleAdmin}))
}
