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

import "math/bits"

// The segregated free-list index: numBuckets LIFO doubly-linked lists of
// free blocks, one per size class. Bucket heads live in the Allocator
// struct (Go-level static storage; spec.md §3 permits either that or
// storing them in the heap itself - the source this spec distills does
// the latter, this implementation does the former since nothing here
// needs the head array to be relocatable heap data).
//
// A free block's sibling links are stored in its own payload: prevFree at
// bp+0, nextFree at bp+wordSize, both 32-bit offsets from the heap base
// (nullOffset for "no sibling").

// bucketFor returns the size-class index for a block of the given size:
// clamp(floor(log2(size)) - basePower, 0, numBuckets-1).
func bucketFor(size uint32) int {
	floorLog2 := bits.Len(uint(size)) - 1
	i := floorLog2 - basePower
	if i < 0 {
		i = 0
	}
	if i > numBuckets-1 {
		i = numBuckets - 1
	}
	return i
}

func (a *Allocator) prevFree(bpOff int) int32    { return int32(a.word(bpOff)) }
func (a *Allocator) setPrevFree(bpOff int, v int32) { a.setWord(bpOff, uint32(v)) }
func (a *Allocator) nextFree(bpOff int) int32    { return int32(a.word(bpOff + wordSize)) }
func (a *Allocator) setNextFree(bpOff int, v int32) { a.setWord(bpOff+wordSize, uint32(v)) }

// insertFree links the free block at bpOff into the head of its size
// class's list (LIFO), per spec.md §4.2.
func (a *Allocator) insertFree(bpOff int) {
	i := bucketFor(uint32(a.blockSize(bpOff)))
	head := a.buckets[i]

	a.setPrevFree(bpOff, nullOffset)
	a.setNextFree(bpOff, head)
	if head != nullOffset {
		a.setPrevFree(int(head), int32(bpOff))
	}
	a.buckets[i] = int32(bpOff)
}

// removeFree unlinks the free block at bpOff from its size class's list,
// rewiring its siblings (or the bucket head) around it.
func (a *Allocator) removeFree(bpOff int) {
	i := bucketFor(uint32(a.blockSize(bpOff)))
	prev := a.prevFree(bpOff)
	next := a.nextFree(bpOff)

	if prev != nullOffset {
		a.setNextFree(int(prev), next)
	} else {
		a.buckets[i] = next
	}
	if next != nullOffset {
		a.setPrevFree(int(next), prev)
	}
}
