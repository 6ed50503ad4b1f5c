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

// Package sbrk provides the raw-heap collaborator that package malloc is
// built on top of: a single contiguous region that can only grow, never
// move and never shrink, addressed by its low and high bounds.
//
// malloc.Allocator treats this as an external dependency (the same way a
// real allocator treats the kernel's brk/sbrk syscall) and never reaches
// past the interface described here.
package sbrk

import (
	"fmt"
	"unsafe"
)

// Provider is the raw-heap collaborator contract a malloc.Allocator is
// initialized against. Extend grows the region by exactly n bytes at its
// high end and returns the address of the first new byte, or ok=false if
// the region cannot grow any further. Lo and Hi bound the currently
// mapped region; Hi is the address of the last valid byte.
type Provider interface {
	Extend(n int) (addr uintptr, ok bool)
	Lo() uintptr
	Hi() uintptr
}

// Heap is a reference Provider backed by a single pre-reserved Go byte
// slice. Reserving the slice's full backing array up front (rather than
// growing it with append, which may relocate it) keeps every address ever
// handed out stable for the Heap's lifetime, matching the real sbrk
// contract that the region's base never moves.
type Heap struct {
	mem  []byte
	base unsafe.Pointer
}

// New reserves a region with the given maximum capacity in bytes. Nothing
// is usable until Extend is called; capacity only bounds how far the
// region can ever grow.
func New(capacity int) (*Heap, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("sbrk: capacity must be positive, got %d", capacity)
	}
	mem := make([]byte, capacity)
	h := &Heap{
		mem:  mem[:0],
		base: unsafe.Pointer(&mem[0]),
	}
	return h, nil
}

// Extend grows the region by n bytes and returns the address of the first
// byte of the new range. It returns ok=false, leaving the region
// untouched, if n is non-positive or the reserved capacity is exhausted.
func (h *Heap) Extend(n int) (addr uintptr, ok bool) {
	if n <= 0 {
		return 0, false
	}
	old := len(h.mem)
	if old+n > cap(h.mem) {
		return 0, false
	}
	h.mem = h.mem[:old+n]
	return uintptr(h.base) + uintptr(old), true
}

// Lo returns the lowest address of the managed region.
func (h *Heap) Lo() uintptr {
	return uintptr(h.base)
}

// Hi returns the address of the last valid byte of the managed region.
// Before the first successful Extend, Hi is one byte below Lo.
func (h *Heap) Hi() uintptr {
	return uintptr(h.base) + uintptr(len(h.mem)) - 1
}

// Len returns the number of bytes currently extended into the region.
func (h *Heap) Len() int {
	return len(h.mem)
}

// Cap returns the maximum number of bytes the region could ever grow to.
func (h *Heap) Cap() int {
	return cap(h.mem)
}

// Base returns the stable base pointer of the region, for callers (package
// malloc) that need to do unsafe pointer arithmetic directly instead of
// going through addresses.
func (h *Heap) Base() unsafe.Pointer {
	return h.base
}
