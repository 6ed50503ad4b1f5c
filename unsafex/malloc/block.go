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

import "unsafe"

// Every block is addressed in this file by its payload offset (bpOff): the
// number of bytes from the heap's base to the block's payload pointer
// (bp). This mirrors ptoi()/itop() in the segregated-fits allocator this
// package is modeled on, and keeps every free-list link a 32-bit relative
// offset instead of a full pointer (spec's design note, option (b)),
// which is what lets a free block's header stay a single 32-bit word
// while still fitting prev/next links in a 16-byte minimum block.
//
// bpOff - wordSize is always the block's header. bpOff + size - 2*wordSize
// is always the block's footer, when one exists.

func (a *Allocator) ptr(off int) unsafe.Pointer { return unsafe.Add(a.base, off) }

func (a *Allocator) word(off int) uint32        { return *(*uint32)(a.ptr(off)) }
func (a *Allocator) setWord(off int, v uint32)  { *(*uint32)(a.ptr(off)) = v }

func headerOff(bpOff int) int { return bpOff - wordSize }

func footerOff(bpOff, size int) int { return bpOff + size - 2*wordSize }

// header returns the raw header word of the block at bpOff.
func (a *Allocator) header(bpOff int) uint32 { return a.word(headerOff(bpOff)) }

// setHeader writes the header word of the block at bpOff.
func (a *Allocator) setHeader(bpOff int, w uint32) { a.setWord(headerOff(bpOff), w) }

// footer returns the raw footer word of the block at bpOff. Only valid if
// the block actually carries a footer (free blocks, and the prologue).
func (a *Allocator) footer(bpOff int) uint32 {
	return a.word(footerOff(bpOff, a.blockSize(bpOff)))
}

// setFooter writes a footer word matching w at the position implied by
// w's own size field.
func (a *Allocator) setFooter(bpOff int, w uint32) {
	a.setWord(footerOff(bpOff, int(unpackSize(w))), w)
}

func (a *Allocator) blockSize(bpOff int) int { return int(unpackSize(a.header(bpOff))) }
func (a *Allocator) isAlloc(bpOff int) bool  { return unpackAlloc(a.header(bpOff)) }
func (a *Allocator) isPrevAlloc(bpOff int) bool {
	return unpackPrevAlloc(a.header(bpOff))
}

// setAlloc writes alloc into the header of the block at bpOff and, when
// marking it free, into its footer too, leaving size and prevAlloc
// untouched.
func (a *Allocator) setAlloc(bpOff int, alloc bool) {
	h := withAlloc(a.header(bpOff), alloc)
	a.setHeader(bpOff, h)
	if !alloc {
		a.setFooter(bpOff, h)
	}
}

// setPrevAllocOfNext writes the prevAlloc bit of the block physically
// following the block at bpOff, keeping that block's own footer (if it
// has one) in sync.
func (a *Allocator) setPrevAllocOfNext(bpOff int, prevAlloc bool) {
	next := a.nextBlock(bpOff)
	h := withPrevAlloc(a.header(next), prevAlloc)
	a.setHeader(next, h)
	if !unpackAlloc(h) {
		a.setFooter(next, h)
	}
}

// nextBlock returns the payload offset of the block physically following
// the block at bpOff: bp + size(header).
func (a *Allocator) nextBlock(bpOff int) int {
	return bpOff + a.blockSize(bpOff)
}

// prevBlock returns the payload offset of the block physically preceding
// the block at bpOff. Only valid when isPrevAlloc(bpOff) is false: a
// physically-preceding allocated block carries no footer to read the size
// from.
func (a *Allocator) prevBlock(bpOff int) int {
	prevFooter := headerOff(bpOff) - wordSize
	prevSize := int(unpackSize(a.word(prevFooter)))
	return bpOff - prevSize
}

// writeFreeBlock stamps the header and footer of a free block of the
// given size starting at bpOff. The sibling links are not written here;
// the caller links the block with insertFree.
func (a *Allocator) writeFreeBlock(bpOff, size int, prevAlloc bool) {
	w := packHeader(uint32(size), prevAlloc, false)
	a.setHeader(bpOff, w)
	a.setFooter(bpOff, w)
}

// writeAllocBlock stamps an allocated block's header only; the footer
// slot is left untouched for the caller to use as payload.
func (a *Allocator) writeAllocBlock(bpOff, size int, prevAlloc bool) {
	a.setHeader(bpOff, packHeader(uint32(size), prevAlloc, true))
}

// payload returns the Go byte slice view of a block's usable payload: len
// is the caller-visible size, cap is the full usable capacity up to (but
// excluding) the header of the next block.
func (a *Allocator) payload(bpOff, usableLen int) []byte {
	size := a.blockSize(bpOff)
	capLen := size - headerOverhead
	return unsafe.Slice((*byte)(a.ptr(bpOff)), capLen)[:usableLen]
}

// offsetOfPayload recovers the payload offset of a block from a non-nil
// []byte previously returned by payload/Alloc/Realloc. Callers must
// handle a nil/zero-cap slice (the spec's "null payload") before calling
// this.
func (a *Allocator) offsetOfPayload(b []byte) int {
	data := unsafe.Pointer(unsafe.SliceData(b))
	return int(uintptr(data) - uintptr(a.base))
}
