// Package grantstore provides file-based persistence for platform capability grants.
package grantstore

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"permgate/internal/domain"
)

// GrantSet is the on-disk grant document.
type GrantSet struct {
	Granted []string `yaml:"granted"`
}

// Has reports whether name is granted.
func (g *GrantSet) Has(name string) bool {
	return slices.Contains(g.Granted, name)
}

// Clone returns a deep copy of g.
func (g *GrantSet) Clone() *GrantSet {
	return &GrantSet{Granted: slices.Clone(g.Granted)}
}

// Deduplicate sorts the grants and drops repeats.
func (g *GrantSet) Deduplicate() {
	slices.Sort(g.Granted)
	g.Granted = slices.Compact(g.Granted)
}

type fileStoreConfig struct {
	path     string
	dirPerm  os.FileMode
	filePerm os.FileMode
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		path:     filepath.Join(os.Getenv("HOME"), ".permgate", "grants.yaml"),
		dirPerm:  0o755,
		filePerm: 0o600,
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithPath sets the path to the grants file.
func WithPath(path string) FileStoreOption {
	return func(c *fileStoreConfig) {
		if path != "" {
			c.path = path
		}
	}
}

// WithFilePermissions sets the file permissions for the grants file.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) { c.filePerm = perm }
}

// WithDirPermissions sets the directory permissions for the grants directory.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) { c.dirPerm = perm }
}

// FileStore persists granted capabilities as YAML.
type FileStore struct {
	config fileStoreConfig
}

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// Load returns the granted capabilities. A missing file is an empty set.
func (s *FileStore) Load() (*GrantSet, error) {
	data, err := os.ReadFile(s.config.path)
	if os.IsNotExist(err) {
		return &GrantSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrGrantStore, s.config.path, err)
	}

	var grants GrantSet
	if err := yaml.Unmarshal(data, &grants); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrGrantStore, s.config.path, err)
	}
	return &grants, nil
}

// Save persists grants, deduplicated.
func (s *FileStore) Save(grants *GrantSet) error {
	if grants == nil {
		grants = &GrantSet{}
	}
	clean := grants.Clone()
	clean.Deduplicate()

	data, err := yaml.Marshal(clean)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", domain.ErrGrantStore, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.config.path), s.config.dirPerm); err != nil {
		return fmt.Errorf("%w: create directory: %v", domain.ErrGrantStore, err)
	}
	if err := os.WriteFile(s.config.path, data, s.config.filePerm); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrGrantStore, s.config.path, err)
	}
	return nil
}

// Contains reports whether name is currently granted.
func (s *FileStore) Contains(name string) (bool, error) {
	g, err := s.Load()
	if err != nil {
		return false, err
	}
	return g.Has(name), nil
}

// Grant adds names to the store.
func (s *FileStore) Grant(names ...string) error {
	g, err := s.Load()
	if err != nil {
		return err
	}
	g.Granted = append(g.Granted, names...)
	return s.Save(g)
}

// Revoke removes names from the store.
func (s *FileStore) Revoke(names ...string) error {
	g, err := s.Load()
	if err != nil {
		return err
	}
	g.Granted = slices.DeleteFunc(g.Granted, func(n string) bool {
		return slices.Contains(names, n)
	})
	return s.Save(g)
}

// ConfigPath returns the path to the backing store.
func (s *FileStore) ConfigPath() string {
	return s.config.path
}
