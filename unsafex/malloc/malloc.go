/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package malloc implements a segregated-fits explicit free-list heap
// allocator over a single, monotonically growable region supplied by a
// sbrk.Provider. It is modeled on the classic 32-bit malloc-lab seglist
// design: a packed 32-bit header/footer per block, boundary-tag
// coalescing, LIFO size-classed free lists, and a configurable placement
// policy.
//
// An Allocator is not safe for concurrent use: every public method
// mutates process-wide state (free-list heads, the frontier) with no
// locking, matching the single-threaded model this package is built for.
// Callers needing concurrent allocation should run one Allocator per
// goroutine, each over its own sbrk.Provider - see package bench.
package malloc

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/galloc/sbrk"
)

// Allocator is a segregated-fits heap allocator bound to a single
// sbrk.Provider. The zero value is not usable; construct one with New and
// call Init before any other method.
type Allocator struct {
	heap sbrk.Provider
	base unsafe.Pointer

	buckets [numBuckets]int32

	// UseNextFit enables the next-fit rover variant of scanBucket: once
	// set, successive fit searches resume from the last block handed out
	// in a class instead of always restarting at the head (spec.md §9).
	UseNextFit bool
	rover      int32

	// LogDepth, when non-zero, makes Init allocate an operation history
	// ring of that many entries (see oplog.go). Zero means no logging.
	LogDepth int
	log      *oplog
}

// New wires an Allocator to the given raw-heap collaborator. Init must
// still be called before any other method.
func New(heap sbrk.Provider) *Allocator {
	return &Allocator{heap: heap, rover: nullOffset}
}

// Init lays down the alignment pad, prologue, and epilogue, resets every
// bucket head to empty, and extends the region by one initial chunk of
// free space, per spec.md §4.7. It must be called exactly once before any
// other method; re-Init is unspecified behavior.
func (a *Allocator) Init() error {
	if _, ok := a.heap.Extend(bootstrapBytes); !ok {
		return fmt.Errorf("malloc: init: sbrk.Provider refused initial %d-byte bootstrap extend", bootstrapBytes)
	}
	if bp, ok := a.heap.(interface{ Base() unsafe.Pointer }); ok {
		a.base = bp.Base()
	} else {
		a.base = unsafe.Pointer(a.heap.Lo())
	}

	// Bootstrap layout from offset 0: [pad][prologue header][prologue
	// footer][epilogue header]. The prologue is a zero-payload allocated
	// block (size=dwordSize) so nextBlock/prevBlock algebra works at the
	// very start of the region without a special case.
	a.setWord(0, 0) // alignment pad, left zero
	prologueBpOff := wordSize + wordSize
	a.writeAllocBlock(prologueBpOff, dwordSize, true)
	a.setFooter(prologueBpOff, a.header(prologueBpOff))
	epilogueOff := prologueBpOff + dwordSize - wordSize
	a.setWord(epilogueOff, packHeader(0, true, true))

	for i := range a.buckets {
		a.buckets[i] = nullOffset
	}
	a.rover = nullOffset

	if a.LogDepth > 0 {
		a.log = newOplog(a.LogDepth)
	}

	if a.extendHeap(initialChunkWords) < 0 {
		return fmt.Errorf("malloc: init: sbrk.Provider refused initial %d-word chunk extend", initialChunkWords)
	}
	return nil
}

// Alloc returns a byte slice of at least n bytes, 8-byte aligned, backed
// by the managed region, or nil if n is zero or the region cannot grow
// enough to satisfy the request (spec.md §4.7).
func (a *Allocator) Alloc(n int) []byte {
	if a.log != nil {
		defer a.log.record(opAlloc, n)
	}
	if n <= 0 || uint64(n) > maxBlockSize-headerOverhead {
		return nil
	}
	asize := adjustedSize(uint32(n))

	if bpOff := a.findFit(asize); bpOff >= 0 {
		out := a.place(bpOff, asize)
		return a.payload(out, n)
	}

	words := int(asize) / wordSize
	if words < growChunkWords {
		words = growChunkWords
	}
	bpOff := a.extendHeap(words)
	if bpOff < 0 {
		return nil
	}
	out := a.place(bpOff, asize)
	return a.payload(out, n)
}

// Calloc is Alloc(nmemb*size) with the payload zeroed, mirroring the C
// calloc convention the allocator this package is modeled on also
// exposes. It returns nil on overflow of nmemb*size or if the underlying
// Alloc does.
func (a *Allocator) Calloc(nmemb, size int) []byte {
	if nmemb < 0 || size < 0 {
		return nil
	}
	n := nmemb * size
	if nmemb != 0 && n/nmemb != size {
		return nil // overflow
	}
	p := a.Alloc(n)
	if p == nil {
		return nil
	}
	for i := range p {
		p[i] = 0
	}
	return p
}

// Free releases the block backing p, coalescing it with any free
// physical neighbors. A nil or empty p is tolerated as a no-op. Passing a
// slice not returned by Alloc/Realloc is undefined behavior and is not
// detected, per spec.md §4.7/§7.
func (a *Allocator) Free(p []byte) {
	if a.log != nil {
		defer a.log.record(opFree, len(p))
	}
	if len(p) == 0 {
		return
	}
	bpOff := a.offsetOfPayload(p)
	a.setAlloc(bpOff, false)
	a.setPrevAllocOfNext(bpOff, false)
	a.coalesce(bpOff)
}

// Realloc resizes the block backing p to hold at least n bytes, per the
// three-case decision tree in spec.md §4.7: shrink in place, grow into a
// free successor or the epilogue, or fall back to allocate+copy+free. A
// nil p behaves as Alloc(n); n == 0 behaves as Free(p) and returns nil.
func (a *Allocator) Realloc(p []byte, n int) []byte {
	if a.log != nil {
		defer a.log.record(opRealloc, n)
	}
	if len(p) == 0 {
		return a.Alloc(n)
	}
	if n <= 0 {
		a.Free(p)
		return nil
	}
	if uint64(n) > maxBlockSize-headerOverhead {
		return nil
	}

	bpOff := a.offsetOfPayload(p)
	asize := adjustedSize(uint32(n))
	c := uint32(a.blockSize(bpOff))

	if asize <= c {
		a.shrinkInPlace(bpOff, c, asize)
		return a.payload(bpOff, n)
	}

	nextOff := a.nextBlock(bpOff)
	prevAlloc := a.isPrevAlloc(bpOff)

	// Epilogue: grow in place by extending the frontier.
	if a.blockSize(nextOff) == 0 && a.isAlloc(nextOff) {
		need := int(asize - c)
		words := need / wordSize
		if words < growChunkWords {
			words = growChunkWords
		}
		grownOff := a.extendHeap(words)
		if grownOff < 0 {
			return a.reallocCopy(p, bpOff, c, n)
		}
		// The frontier extension produced a new free block physically
		// following block(p); extendHeap's coalesce call cannot merge it
		// into block(p), which is allocated. Re-fuse it into block(p) directly
		// instead of going through the general free-block fuse path,
		// since it is guaranteed adjacent and was never handed to a
		// caller.
		a.removeFree(grownOff)
		a.retargetRoverOnRemove(grownOff)
		total := c + uint32(a.blockSize(grownOff))
		a.writeAllocBlock(bpOff, int(total), prevAlloc)
		a.setPrevAllocOfNext(bpOff, true)
		a.shrinkInPlace(bpOff, total, asize)
		return a.payload(bpOff, n)
	}

	// Free successor big enough to fuse into.
	if !a.isAlloc(nextOff) {
		total := c + uint32(a.blockSize(nextOff))
		if total >= asize {
			a.removeFree(nextOff)
			a.retargetRoverOnRemove(nextOff)
			a.writeAllocBlock(bpOff, int(total), prevAlloc)
			a.setPrevAllocOfNext(bpOff, true)
			a.shrinkInPlace(bpOff, total, asize)
			return a.payload(bpOff, n)
		}
	}

	return a.reallocCopy(p, bpOff, c, n)
}

// shrinkInPlace optionally splits the tail of an already-placed block of
// size c down to asize off as its own free block, when the surplus is at
// least minBlockSize; otherwise leaves the block exactly as-is (spec.md
// §4.7 step 2: "optionally shrink-split").
func (a *Allocator) shrinkInPlace(bpOff int, c, asize uint32) {
	surplus := c - asize
	if surplus < minBlockSize {
		return
	}
	prevAlloc := a.isPrevAlloc(bpOff)
	a.writeAllocBlock(bpOff, int(asize), prevAlloc)
	remOff := bpOff + int(asize)
	a.writeFreeBlock(remOff, int(surplus), true)
	a.setPrevAllocOfNext(remOff, false)
	a.coalesce(remOff)
}

// reallocCopy implements the fallback path of reallocate: allocate a
// fresh block of size n, copy min(n, C - header_overhead) bytes from the
// old payload, free the old block.
func (a *Allocator) reallocCopy(p []byte, bpOff int, c uint32, n int) []byte {
	fresh := a.Alloc(n)
	if fresh == nil {
		return nil
	}
	usable := int(c) - headerOverhead
	if usable > len(p) {
		usable = len(p)
	}
	if usable > n {
		usable = n
	}
	copy(fresh, p[:usable])
	a.Free(p)
	return fresh
}
