package medialib

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FolderDestination is a Destination rooted at a local folder tree.
// Platforms without a sandbox model get a no-op scoped-access bracket.
type FolderDestination struct {
	root string
	key  string
}

func NewFolderDestination(root string) (*FolderDestination, error) {
	if root == "" {
		return nil, errors.New("medialib: required destination root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("medialib: resolve destination root: %w", err)
	}
	return &FolderDestination{
		root: abs,
		key:  DeriveKey(abs),
	}, nil
}

// DeriveKey maps a destination root path to a stable store key.
func DeriveKey(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:8])
}

func (d *FolderDestination) Key() string {
	return d.key
}

func (d *FolderDestination) Root() string {
	return d.root
}

func (d *FolderDestination) BucketDir(year, month int, create bool) (string, error) {
	info, err := os.Stat(d.root)
	if err != nil {
		return "", fmt.Errorf("medialib: destination unreachable: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("medialib: destination %s is not a directory", d.root)
	}

	dir := filepath.Join(d.root, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
	if create {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("medialib: create bucket dir: %w", err)
		}
	}
	return dir, nil
}

func (d *FolderDestination) BeginScopedAccess() (func(), error) {
	return func() {}, nil
}
