package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permgate/internal/domain"
)

func TestDefaultCatalogue(t *testing.T) {
	c := DefaultCatalogue()
	assert.Equal(t, []domain.PermissionName{
		domain.PermissionLogin,
		domain.PermissionNotifications,
		domain.PermissionPIP,
		domain.PermissionDownloads,
	}, c.Names())

	for _, e := range c.Entries() {
		assert.NotEmpty(t, e.Descriptor.ErrorMsg, e.Name)
		assert.NotEmpty(t, e.Descriptor.Description, e.Name)
	}
	d, ok := c.Lookup(domain.PermissionPIP)
	require.True(t, ok)
	assert.Contains(t, d.ErrorMsg, "picture-in-picture")
}

func TestNewCatalogue_Rejects(t *testing.T) {
	_, err := NewCatalogue(Entry{Name: ""})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = NewCatalogue(Entry{Name: "login"}, Entry{Name: "login"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestCatalogue_NamesIsCopy(t *testing.T) {
	c := DefaultCatalogue()
	names := c.Names()
	names[0] = "mutated"
	assert.Equal(t, domain.PermissionLogin, c.Names()[0])
	assert.False(t, c.Contains("mutated"))
	assert.Equal(t, 4, c.Len())
}
