// Package vfsadapter is the administrative entry point a VFS collaborator
// would bind against: it registers DFS's format and mount operations under a
// filesystem-type name (unmount and statfs are methods of the mounted
// *dfs.Filesystem that Mount returns), the way the teacher's
// pkg/vdisk registers a named filesystem compiler for its image builder to
// look up. Building the VFS dispatcher itself is out of scope; this package
// only gives DFS a discoverable, by-name home within one.
package vfsadapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mringgaard/dfs/pkg/dfs"
	"github.com/mringgaard/dfs/pkg/dfs/blockdev"
	"github.com/mringgaard/dfs/pkg/elog"
)

// Driver is the set of operations a registered filesystem type must supply.
// It mirrors dfs.Format and dfs.Mount directly; Unmount and Statfs are
// reached through the returned *dfs.Filesystem. vfsadapter adds no behaviour
// of its own beyond name-based lookup.
type Driver struct {
	// Format lays out a fresh filesystem of this type on dev.
	Format func(dev blockdev.Device, optString string, log elog.View) error

	// Mount brings a filesystem of this type up for use.
	Mount func(dev blockdev.Device, optString string) (*dfs.Filesystem, error)
}

var (
	mu        sync.Mutex
	drivers   = map[string]Driver{}
	dfsDriver = Driver{Format: dfs.Format, Mount: dfs.Mount}
)

func init() {
	// Register DFS itself under its own name and under "" so a VFS
	// collaborator with no preference gets DFS by default, the way the
	// teacher's ext compiler registers under both "" and "ext".
	if err := Register("dfs", dfsDriver); err != nil {
		panic(err)
	}
	if err := Register("", dfsDriver); err != nil {
		panic(err)
	}
}

// Register adds a driver under name. It is an error to register the same
// name twice; callers that need to replace a registration must Deregister
// first.
func Register(name string, d Driver) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := drivers[name]; exists {
		return fmt.Errorf("vfsadapter: refusing to register filesystem %q: already registered", name)
	}
	drivers[name] = d
	return nil
}

// Deregister removes the driver registered under name, if any.
func Deregister(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(drivers, name)
}

// Names returns the alphabetised list of registered filesystem type names.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()

	names := make([]string, 0, len(drivers))
	for k := range drivers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Format looks up the driver registered under name and formats dev with it.
func Format(name string, dev blockdev.Device, optString string, log elog.View) error {
	mu.Lock()
	d, exists := drivers[name]
	mu.Unlock()

	if !exists {
		return fmt.Errorf("vfsadapter: filesystem %q not found", name)
	}
	return d.Format(dev, optString, log)
}

// Mount looks up the driver registered under name and mounts dev with it.
func Mount(name string, dev blockdev.Device, optString string) (*dfs.Filesystem, error) {
	mu.Lock()
	d, exists := drivers[name]
	mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("vfsadapter: filesystem %q not found", name)
	}
	return d.Mount(dev, optString)
}
