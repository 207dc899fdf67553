// Copyright 2019 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package native

import (
	"fmt"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// pageSize is the allocation granularity; mmap-go rounds any request up to
// this anyway, so chunking the emit buffer on it avoids wasting a partial
// page per block the way a naive per-block mmap would.
const pageSize = 4096

// chunkSize is how much executable memory Allocator requests from the OS
// at a time. §4.F's emit buffer grows monotonically and is never shrunk
// during a process's lifetime, so a handful of large chunks beats one
// mmap call per compiled block.
const chunkSize = 64 * pageSize

// chunk is one mmap'd, RWX region and a bump-allocation cursor into it.
type chunk struct {
	region mmap.MMap
	cursor int
	frozen int // bytes at [0, frozen) are not to be overwritten, only appended past.
}

// Allocator hands out executable memory for compiled block bodies and
// stubs, and implements the freeze semantics §4.G's tracing-activation
// case depends on ("the invalidated range of the code-emit buffer is then
// marked frozen; subsequent compilations may still append but not
// overwrite it").
type Allocator struct {
	mu     sync.Mutex
	chunks []*chunk
}

// NewAllocator returns an empty Allocator. It does not reserve any memory
// until the first Emit call, matching the teacher's lazy MMapAllocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Emit bump-allocates len(code) bytes of executable memory, copies code
// into it, and returns its absolute address. Never returns an address inside a frozen range for a
// future call; a frozen chunk is simply retired from the free list once it
// no longer has room for a full request, matching the "append but not
// overwrite" rule (this allocator never overwrites at all -- it only
// freezes to make the *intent* explicit, and to refuse same-chunk
// overwrite-in-place optimizations higher layers might otherwise attempt).
func (a *Allocator) Emit(code []byte) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(code) == 0 {
		return 0, fmt.Errorf("native: empty code block")
	}

	c, err := a.chunkWithRoom(len(code))
	if err != nil {
		return 0, err
	}
	copy(c.region[c.cursor:], code)
	addr := sliceAddr(c.region) + uintptr(c.cursor)
	c.cursor += len(code)
	return addr, nil
}

func (a *Allocator) chunkWithRoom(n int) (*chunk, error) {
	for _, c := range a.chunks {
		if c.cursor+n <= len(c.region) {
			return c, nil
		}
	}
	size := chunkSize
	if n > size {
		size = ((n / pageSize) + 1) * pageSize
	}
	region, err := mmap.MapRegion(nil, size, mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("native: mmap executable region: %w", err)
	}
	c := &chunk{region: region}
	a.chunks = append(a.chunks, c)
	return c, nil
}

// Patch overwrites len(code) bytes at addr in place. Unlike Emit, it does
// not respect the frozen boundary: invalidation (package invalidate) is
// exactly the case where already-emitted bytes must be overwritten with a
// jump to a side exit, per §4.G step 1. Emit itself never needs to avoid
// frozen ranges either, since its cursor only ever advances forward past
// them.
func (a *Allocator) Patch(addr uintptr, code []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.chunks {
		base := sliceAddr(c.region)
		end := base + uintptr(len(c.region))
		if addr >= base && addr+uintptr(len(code)) <= end {
			copy(c.region[addr-base:], code)
			return nil
		}
	}
	return fmt.Errorf("native: address %#x is not owned by this allocator", addr)
}

// FreezeAll marks every byte emitted so far, in every chunk, frozen. It is
// installed as the invalidate.Tracker freeze hook (see engine.New) so that
// activating tracing freezes the whole buffer in one call, per §4.G.
func (a *Allocator) FreezeAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.chunks {
		c.frozen = c.cursor
	}
}

// Close unmaps every chunk. Only meant for tests and clean process
// shutdown; compiled code addresses returned by Emit must not be used
// afterward.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for _, c := range a.chunks {
		if err := c.region.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.chunks = nil
	return firstErr
}
