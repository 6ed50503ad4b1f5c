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

const (
	// wordSize is the size of a header/footer/free-list-link word.
	wordSize = 4
	// dwordSize is the double-word alignment unit.
	dwordSize = 8
	// alignment is the payload alignment guarantee: every bp is a
	// multiple of alignment bytes from the heap base.
	alignment = dwordSize

	// minBlockSize is the smallest block the allocator ever hands out or
	// splits off: header + prevFree + nextFree + footer.
	minBlockSize = 4 * wordSize

	// headerOverhead is the bookkeeping cost of an allocated block (only
	// a header; the footer slot is reused as payload).
	headerOverhead = wordSize

	// allocBit and prevAllocBit are the two flag bits packed into the
	// low 3 (always-zero) bits of a size that is a multiple of 8.
	allocBit     uint32 = 0x1
	prevAllocBit uint32 = 0x2
	sizeMask     uint32 = ^uint32(dwordSize - 1)

	// maxBlockSize is the largest size representable in the 32-bit
	// header/footer word once the low 3 bits are reserved for flags.
	maxBlockSize = 0xFFFFFFF8

	// numBuckets (K) and basePower (BASE) define the segregated size
	// classes: bucket i covers [2^(i+basePower), 2^(i+basePower+1)),
	// bucket numBuckets-1 is open-ended. basePower=4 makes bucket 0
	// exactly [16, 32), matching minBlockSize.
	numBuckets = 20
	basePower  = 4

	// splitThreshold (T) is the placer's low/high split cutover. Tuned,
	// like the source this spec distills, for a realloc-heavy workload
	// mixing many small headers (< 128B) with a handful of large,
	// long-lived buffers: small requests are placed at the low end of a
	// free block so they don't fragment the region the large requests
	// grow into at the high end, near the frontier.
	splitThreshold = 128

	// initialChunkWords and growChunkWords are the number of words
	// requested from the sbrk.Provider at Init and whenever no fit is
	// found, respectively. 4KiB matches a typical page size and was
	// tuned for the same workload splitThreshold targets.
	initialChunkWords = (1 << 12) / wordSize
	growChunkWords    = (1 << 12) / wordSize

	// bootstrapBytes is the one-time cost of the alignment pad,
	// prologue (header+footer) and epilogue (header only) laid down by
	// Init before the first extension.
	bootstrapBytes = wordSize /*pad*/ + dwordSize /*prologue*/ + wordSize /*epilogue*/

	// nullOffset is the sentinel stored in a bucket head or a free
	// block's prev/next link to mean "no block".
	nullOffset int32 = -1
)

// packHeader combines a size (already a multiple of 8) with the
// prevAlloc/alloc flags into a single header/footer word, per spec:
// header_word = size | (prev_alloc << 1) | alloc.
func packHeader(size uint32, prevAlloc, alloc bool) uint32 {
	w := size & sizeMask
	if prevAlloc {
		w |= prevAllocBit
	}
	if alloc {
		w |= allocBit
	}
	return w
}

func unpackSize(w uint32) uint32      { return w & sizeMask }
func unpackAlloc(w uint32) bool       { return w&allocBit != 0 }
func unpackPrevAlloc(w uint32) bool   { return w&prevAllocBit != 0 }
func withAlloc(w uint32, v bool) uint32 {
	if v {
		return w | allocBit
	}
	return w &^ allocBit
}
func withPrevAlloc(w uint32, v bool) uint32 {
	if v {
		return w | prevAllocBit
	}
	return w &^ prevAllocBit
}

// roundUpDWord rounds n up to the next multiple of dwordSize.
func roundUpDWord(n int) int {
	return (n + dwordSize - 1) &^ (dwordSize - 1)
}

// adjustedSize computes the block size (header + payload, rounded and
// clamped) a request of n bytes needs, per spec §4.7: at least
// minBlockSize, a multiple of 8, enough for n payload bytes plus the
// header overhead.
func adjustedSize(n uint32) uint32 {
	need := int(n) + headerOverhead
	asize := roundUpDWord(need)
	if asize < minBlockSize {
		asize = minBlockSize
	}
	return uint32(asize)
}
