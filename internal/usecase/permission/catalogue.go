package permission

import (
	"fmt"

	"permgate/internal/domain"
)

// Entry pairs a permission name with its descriptor.
type Entry struct {
	Name       domain.PermissionName
	Descriptor domain.PermissionDescriptor
}

// Catalogue is the fixed, ordered registry of known permissions.
// It is immutable after construction.
type Catalogue struct {
	names   []domain.PermissionName
	entries map[domain.PermissionName]domain.PermissionDescriptor
}

// NewCatalogue builds a catalogue from entries, preserving their order.
// Duplicate or empty names are rejected.
func NewCatalogue(entries ...Entry) (*Catalogue, error) {
	c := &Catalogue{
		names:   make([]domain.PermissionName, 0, len(entries)),
		entries: make(map[domain.PermissionName]domain.PermissionDescriptor, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalogue entry: %w: empty permission name", domain.ErrInvalidInput)
		}
		if _, dup := c.entries[e.Name]; dup {
			return nil, fmt.Errorf("catalogue entry %q: %w", e.Name, domain.ErrDuplicate)
		}
		c.names = append(c.names, e.Name)
		c.entries[e.Name] = e.Descriptor
	}
	return c, nil
}

// DefaultEntries returns the built-in catalogue entries.
func DefaultEntries() []Entry {
	return []Entry{
		{
			Name: domain.PermissionLogin,
			Descriptor: domain.PermissionDescriptor{
				ErrorMsg:    "You are not logged in",
				Description: "Log in to use this feature",
			},
		},
		{
			Name: domain.PermissionNotifications,
			Descriptor: domain.PermissionDescriptor{
				ErrorMsg:    "Notification permission has not been granted",
				Description: "Needed to show desktop notifications",
			},
		},
		{
			Name: domain.PermissionPIP,
			Descriptor: domain.PermissionDescriptor{
				ErrorMsg:    "Your browser does not support picture-in-picture",
				Description: "Upgrade your browser or switch to one that supports picture-in-picture",
			},
		},
		{
			Name: domain.PermissionDownloads,
			Descriptor: domain.PermissionDescriptor{
				ErrorMsg:    "Download management permission has not been granted",
				Description: "Needed to rename downloaded danmaku and video files",
			},
		},
	}
}

// DefaultCatalogue returns the built-in catalogue.
func DefaultCatalogue() *Catalogue {
	c, err := NewCatalogue(DefaultEntries()...)
	if err != nil {
		panic(err) // built-in entries are static
	}
	return c
}

// Names returns the permission names in catalogue order.
func (c *Catalogue) Names() []domain.PermissionName {
	out := make([]domain.PermissionName, len(c.names))
	copy(out, c.names)
	return out
}

// Lookup returns the descriptor for name.
func (c *Catalogue) Lookup(name domain.PermissionName) (domain.PermissionDescriptor, bool) {
	d, ok := c.entries[name]
	return d, ok
}

// Contains reports whether name is a known permission.
func (c *Catalogue) Contains(name domain.PermissionName) bool {
	_, ok := c.entries[name]
	return ok
}

// Len returns the number of catalogue entries.
func (c *Catalogue) Len() int { return len(c.names) }

// Entries returns every entry in catalogue order.
func (c *Catalogue) Entries() []Entry {
	out := make([]Entry, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, Entry{Name: n, Descriptor: c.entries[n]})
	}
	return out
}
