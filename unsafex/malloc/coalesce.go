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

// coalesce merges the block at bpOff (already written with alloc=0, not
// yet linked into any bucket) with its free physical neighbors, per the
// four-case table in spec.md §4.5, and links the resulting block into
// the free-list index. Returns the payload offset of the (possibly
// merged) block.
func (a *Allocator) coalesce(bpOff int) int {
	prevAlloc := a.isPrevAlloc(bpOff)
	nextOff := a.nextBlock(bpOff)
	nextAlloc := a.isAlloc(nextOff)
	size := a.blockSize(bpOff)

	switch {
	case prevAlloc && nextAlloc:
		a.insertFree(bpOff)
		return bpOff

	case prevAlloc && !nextAlloc:
		size += a.blockSize(nextOff)
		a.removeFree(nextOff)
		a.retargetRoverOnRemove(nextOff)
		a.writeFreeBlock(bpOff, size, true)
		a.insertFree(bpOff)
		a.setPrevAllocOfNext(bpOff, false)
		return bpOff

	case !prevAlloc && nextAlloc:
		prevOff := a.prevBlock(bpOff)
		size += a.blockSize(prevOff)
		prevPrevAlloc := a.isPrevAlloc(prevOff)
		a.removeFree(prevOff)
		a.retargetRoverOnRemove(prevOff)
		a.writeFreeBlock(prevOff, size, prevPrevAlloc)
		a.insertFree(prevOff)
		a.setPrevAllocOfNext(prevOff, false)
		return prevOff

	default: // !prevAlloc && !nextAlloc
		prevOff := a.prevBlock(bpOff)
		size += a.blockSize(prevOff) + a.blockSize(nextOff)
		prevPrevAlloc := a.isPrevAlloc(prevOff)
		a.removeFree(prevOff)
		a.removeFree(nextOff)
		a.retargetRoverOnRemove(prevOff)
		a.retargetRoverOnRemove(nextOff)
		a.writeFreeBlock(prevOff, size, prevPrevAlloc)
		a.insertFree(prevOff)
		a.setPrevAllocOfNext(prevOff, false)
		return prevOff
	}
}
