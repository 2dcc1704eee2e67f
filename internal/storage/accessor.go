package storage

import "sync"

// Accessor is a scoped handle onto a mapped region. It holds the owning
// storage's remap lock in shared mode for its lifetime and exposes the
// mapped base at the time Access was called.
//
// Per spec §9's design note, an accessor conceptually points back at the
// storage whose lock it holds; it is modeled here as a borrow scoped to
// Release, never as an owning back-reference - Release is the caller's
// responsibility (typically via defer), mirroring the
// iterator/reader/finalizer handles in the storage engine this design is
// grounded on, which hold their remap lock until explicitly disposed.
type Accessor struct {
	once sync.Once
	data []byte
	release func()
}

func newAccessor(data []byte, release func()) *Accessor {
	return &Accessor{data: data, release: release}
}

// Bytes returns the full mapped region as it stood when the accessor was
// obtained. Callers index into it at their table's link/offset.
func (a *Accessor) Bytes() []byte {
	return a.data
}

// Release gives up the shared remap lock. Release is idempotent; it is
// safe (and expected, via defer) to call exactly once per Access call.
func (a *Accessor) Release() {
	a.once.Do(a.release)
}
