package thumb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Disks is a registry of named disk providers, safe for concurrent use.
type Disks struct {
	mu    sync.RWMutex
	disks map[string]DiskProvider
}

// NewDisks creates an empty registry.
func NewDisks() *Disks {
	return &Disks{disks: make(map[string]DiskProvider)}
}

// Register adds or replaces the disk named name.
func (d *Disks) Register(name string, disk DiskProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disks[name] = disk
}

// Get returns the named disk or ErrDiskUnavailable.
func (d *Disks) Get(name string) (DiskProvider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	disk, ok := d.disks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDiskUnavailable, name)
	}
	return disk, nil
}

// Has reports whether name is registered.
func (d *Disks) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.disks[name]
	return ok
}

// Names returns the registered disk names in sorted order.
func (d *Disks) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.disks))
	for name := range d.disks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
