// Package containers resolves application data containers. The platform's
// container-manager API is private, so resolution is a capability: a
// filesystem implementation when the container store is readable, a null
// implementation everywhere else, chosen once at startup.
package containers

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultStoreRoot is the on-device data-container store.
	DefaultStoreRoot = "/var/mobile/Containers/Data/Application"

	metadataFile = ".com.apple.mobile_container_manager.metadata.plist"
)

var ErrUnavailable = errors.New("container resolution unavailable")

// Resolver maps a bundle identifier to its data container path.
type Resolver interface {
	DataContainer(bundleID string) (string, error)
}

// Null is the fallback resolver for hosts without a container store.
type Null struct{}

func (Null) DataContainer(string) (string, error) {
	return "", ErrUnavailable
}

// Store resolves containers by scanning container metadata on disk. The
// metadata plist may be binary, but the owning bundle identifier always
// appears in it as a plain byte string, which is all the lookup needs.
type Store struct {
	Root string
}

func (s Store) DataContainer(bundleID string) (string, error) {
	if bundleID == "" {
		return "", errors.New("bundle identifier is required")
	}
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return "", fmt.Errorf("read container store: %w", err)
	}
	needle := []byte(bundleID)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.Root, entry.Name())
		raw, err := os.ReadFile(filepath.Join(dir, metadataFile))
		if err != nil {
			continue
		}
		if bytes.Contains(raw, needle) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no data container for %s", bundleID)
}

// Detect picks the store-backed resolver when the container store exists,
// the null resolver otherwise.
func Detect(root string) Resolver {
	if root == "" {
		root = DefaultStoreRoot
	}
	if fi, err := os.Stat(root); err == nil && fi.IsDir() {
		return Store{Root: root}
	}
	return Null{}
}
