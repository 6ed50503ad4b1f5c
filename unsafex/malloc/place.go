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

// place consumes the free block at bpOff (of size C >= asize) to satisfy
// a request of asize bytes, splitting off and reinserting the remainder
// when it's large enough to be its own block. Returns the payload offset
// of the block to hand back to the caller, per spec.md §4.3.
func (a *Allocator) place(bpOff int, asize uint32) int {
	a.removeFree(bpOff)

	c := uint32(a.blockSize(bpOff))
	prevAlloc := a.isPrevAlloc(bpOff)
	remainder := c - asize

	if remainder < minBlockSize {
		// Whole block allocated: no split possible without violating the
		// minimum block size.
		a.writeAllocBlock(bpOff, int(c), prevAlloc)
		a.setPrevAllocOfNext(bpOff, true)
		a.retargetRoverOnRemove(bpOff)
		return bpOff
	}

	if asize < splitThreshold {
		// Small request: allocate the low end, free the high remainder.
		a.writeAllocBlock(bpOff, int(asize), prevAlloc)
		remOff := bpOff + int(asize)
		a.writeFreeBlock(remOff, int(remainder), true)
		a.insertFree(remOff)
		a.setPrevAllocOfNext(remOff, false)
		a.retargetRoverOnRemove(bpOff)
		return bpOff
	}

	// Large request: free the low remainder, allocate the high end. This
	// clusters long-lived large allocations against the frontier and
	// keeps small allocations near the base (spec.md §4.3).
	a.writeFreeBlock(bpOff, int(remainder), prevAlloc)
	a.insertFree(bpOff)
	hiOff := bpOff + int(remainder)
	a.writeAllocBlock(hiOff, int(asize), false)
	a.setPrevAllocOfNext(hiOff, true)
	a.retargetRoverOnRemove(bpOff)
	return hiOff
}
