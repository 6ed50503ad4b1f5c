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

// findFit walks buckets in ascending order starting at bucketFor(size),
// and within each bucket scans the list from the head, returning the
// first block whose size is >= size. Returns -1 if no bucket yields a
// fit. This is "first-fit within the smallest non-empty sufficient
// class" (spec.md §4.4): effectively best-fit with O(1) constant-factor
// overhead instead of an O(n) scan of every free block.
func (a *Allocator) findFit(size uint32) int {
	start := bucketFor(size)
	for i := start; i < numBuckets; i++ {
		if bpOff, ok := a.scanBucket(i, size); ok {
			return bpOff
		}
	}
	return -1
}

// scanBucket scans bucket i for the first block >= size. When the
// next-fit rover is enabled and currently points inside this bucket, the
// scan starts just after the rover instead of at the head, then wraps
// around to the head - biasing reuse toward blocks that haven't been
// considered recently (spec.md §9's "next-fit variant").
func (a *Allocator) scanBucket(i int, size uint32) (int, bool) {
	head := a.buckets[i]
	if head == nullOffset {
		return 0, false
	}

	start := head
	if a.UseNextFit && a.rover != nullOffset && bucketFor(uint32(a.blockSize(int(a.rover)))) == i {
		if next := a.nextFree(int(a.rover)); next != nullOffset {
			start = next
		}
	}

	if bpOff, ok := a.scanFrom(start, size); ok {
		if a.UseNextFit {
			a.rover = a.prevFree(bpOff)
		}
		return bpOff, true
	}
	if start != head {
		// wrap around: we started mid-list, so sweep the head half too.
		if bpOff, ok := a.scanFrom(head, size); ok {
			if a.UseNextFit {
				a.rover = a.prevFree(bpOff)
			}
			return bpOff, true
		}
	}
	return 0, false
}

// scanFrom scans a free list starting at start (an offset, nullOffset for
// "end of list") for the first block >= size.
func (a *Allocator) scanFrom(start int32, size uint32) (int, bool) {
	for cur := start; cur != nullOffset; cur = a.nextFree(int(cur)) {
		if uint32(a.blockSize(int(cur))) >= size {
			return int(cur), true
		}
	}
	return 0, false
}

// retargetRoverOnRemove clears the next-fit rover if it was pointing at
// a block that just left the free-list index (allocated, or absorbed by
// a coalesce), per spec.md §9: "the coalescer must retarget the cursor
// if a merge absorbs its current target".
func (a *Allocator) retargetRoverOnRemove(bpOff int) {
	if a.UseNextFit && a.rover == int32(bpOff) {
		a.rover = nullOffset
	}
}
