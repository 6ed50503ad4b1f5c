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

// regionLen returns the number of bytes currently mapped into the
// managed region, from the sbrk.Provider's own bounds.
func (a *Allocator) regionLen() int {
	return int(a.heap.Hi()-a.heap.Lo()) + 1
}

// epilogueHeaderOff returns the offset of the current epilogue's header:
// always the last word of the mapped region.
func (a *Allocator) epilogueHeaderOff() int {
	return a.regionLen() - wordSize
}

// extendHeap grows the managed region by the given number of words
// (rounded up to an even count so the new region ends on an 8-byte
// boundary, per spec.md §4.6), lays the new bytes down as one big free
// block in place of the old epilogue, writes a fresh epilogue at the new
// frontier, and coalesces the new block with its predecessor. Returns
// the payload offset of the (possibly merged) new block, or -1 if the
// underlying sbrk.Provider refused to grow.
func (a *Allocator) extendHeap(words int) int {
	if words <= 0 {
		return -1
	}
	bytes := words * wordSize
	if words%2 != 0 {
		bytes += wordSize
	}

	oldEpilogueOff := a.epilogueHeaderOff()
	prevAlloc := unpackPrevAlloc(a.word(oldEpilogueOff))

	if _, ok := a.heap.Extend(bytes); !ok {
		return -1
	}

	newBlockOff := oldEpilogueOff + wordSize
	a.writeFreeBlock(newBlockOff, bytes, prevAlloc)

	newEpilogueOff := a.epilogueHeaderOff()
	a.setWord(newEpilogueOff, packHeader(0, false, true))

	return a.coalesce(newBlockOff)
}
