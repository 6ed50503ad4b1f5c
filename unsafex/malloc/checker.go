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

package malloc

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/galloc/hash/xfnv"
)

// CheckLevel selects how thoroughly Allocator.Check examines the region.
type CheckLevel int

const (
	// CheckFast walks every physical block once, verifying alignment,
	// size bounds, header/footer agreement, prev_alloc consistency and
	// the no-two-adjacent-free invariant. O(blocks).
	CheckFast CheckLevel = iota
	// CheckDeep additionally walks every bucket's free list (cycle
	// detection, sibling-link consistency, bucket-range discipline) and
	// cross-checks it against a linear scan of every free block in the
	// region. O(n).
	CheckDeep
)

// firstBlockOff is the payload offset of the first non-sentinel block:
// immediately past the prologue, which always starts at offset
// 2*wordSize and has size dwordSize.
const firstBlockOff = 2*wordSize + dwordSize

// Check verifies the invariants in spec.md §8 up to the given level and
// returns the first one it finds violated, or nil. It is meant to be
// called by tests after any public Allocator call, never in a
// production build's hot path (CheckDeep is O(n)).
func (a *Allocator) Check(level CheckLevel) error {
	if err := a.checkBlocks(); err != nil {
		return err
	}
	if level >= CheckDeep {
		if err := a.checkFreeLists(); err != nil {
			return err
		}
		if err := a.checkFreeSetAgreement(); err != nil {
			return err
		}
	}
	return nil
}

// checkBlocks walks every physical block from the first non-sentinel
// block to the epilogue, verifying properties 1, 3, 4, 5 and 6.
func (a *Allocator) checkBlocks() error {
	limit := a.regionLen()
	cur := firstBlockOff
	prevAlloc := true // the prologue is allocated

	for {
		if cur < 0 || headerOff(cur) > limit-wordSize {
			return fmt.Errorf("malloc: checker: block at offset %d lies outside the managed region", cur)
		}
		size := a.blockSize(cur)
		alloc := a.isAlloc(cur)

		if size == 0 && alloc {
			break // epilogue
		}
		if size%dwordSize != 0 || size < minBlockSize {
			return fmt.Errorf("malloc: checker: block at offset %d has invalid size %d", cur, size)
		}
		if cur%dwordSize != 0 {
			return fmt.Errorf("malloc: checker: payload at offset %d is not %d-byte aligned", cur, dwordSize)
		}
		if a.isPrevAlloc(cur) != prevAlloc {
			return fmt.Errorf("malloc: checker: block at offset %d has prev_alloc=%v but physical predecessor alloc=%v",
				cur, a.isPrevAlloc(cur), prevAlloc)
		}
		if !alloc {
			if !prevAlloc {
				return fmt.Errorf("malloc: checker: block at offset %d and its physical predecessor are both free", cur)
			}
			h, f := a.header(cur), a.footer(cur)
			if h != f {
				return fmt.Errorf("malloc: checker: block at offset %d header %#x disagrees with footer %#x", cur, h, f)
			}
		}

		next := cur + size
		if next <= cur {
			return fmt.Errorf("malloc: checker: block at offset %d has non-advancing size %d", cur, size)
		}
		prevAlloc = alloc
		cur = next
	}
	return nil
}

// checkFreeLists walks every bucket's free list once, verifying property
// 7 (no cycles, sound prev/next links) and property 8 (bucket
// discipline).
func (a *Allocator) checkFreeLists() error {
	for i := 0; i < numBuckets; i++ {
		if err := a.checkBucketList(i); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) checkBucketList(i int) error {
	head := a.buckets[i]

	// Tortoise/hare cycle detection.
	slow, fast := head, head
	for fast != nullOffset {
		if fast = a.nextFree(int(fast)); fast == nullOffset {
			break
		}
		if fast = a.nextFree(int(fast)); fast == nullOffset {
			break
		}
		slow = a.nextFree(int(slow))
		if fast == slow {
			return fmt.Errorf("malloc: checker: bucket %d free list contains a cycle", i)
		}
	}

	prev := nullOffset
	for cur := head; cur != nullOffset; cur = a.nextFree(int(cur)) {
		if a.prevFree(int(cur)) != prev {
			return fmt.Errorf("malloc: checker: bucket %d: block at offset %d has inconsistent prev link", i, cur)
		}
		if a.isAlloc(int(cur)) {
			return fmt.Errorf("malloc: checker: bucket %d contains allocated block at offset %d", i, cur)
		}
		size := uint32(a.blockSize(int(cur)))
		if want := bucketFor(size); want != i {
			return fmt.Errorf("malloc: checker: block at offset %d of size %d sits in bucket %d, expected %d", cur, size, i, want)
		}
		prev = cur
	}
	return nil
}

// checkFreeSetAgreement verifies property 9: the set of free blocks
// found by a linear physical scan equals the set indexed by the
// buckets.
func (a *Allocator) checkFreeSetAgreement() error {
	scanned := make(map[int]bool)
	limit := a.regionLen()
	for cur := firstBlockOff; cur <= limit-wordSize; {
		size := a.blockSize(cur)
		alloc := a.isAlloc(cur)
		if size == 0 && alloc {
			break
		}
		if !alloc {
			scanned[cur] = true
		}
		cur += size
	}

	indexed := make(map[int]bool)
	for i := 0; i < numBuckets; i++ {
		for cur := a.buckets[i]; cur != nullOffset; cur = a.nextFree(int(cur)) {
			indexed[int(cur)] = true
		}
	}

	if len(scanned) != len(indexed) {
		return fmt.Errorf("malloc: checker: free-set mismatch: %d free blocks by scan, %d indexed by buckets", len(scanned), len(indexed))
	}
	for off := range scanned {
		if !indexed[off] {
			return fmt.Errorf("malloc: checker: block at offset %d is free but not indexed by any bucket", off)
		}
	}
	return nil
}

// RegionChecksum hashes the entire managed region with xfnv. Tests use
// it to snapshot state around an operation and confirm no byte outside
// the blocks that operation touched was disturbed.
func (a *Allocator) RegionChecksum() uint64 {
	region := unsafe.Slice((*byte)(a.base), a.regionLen())
	return xfnv.Hash(region)
}
