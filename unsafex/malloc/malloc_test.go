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
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/galloc/sbrk"
)

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	heap, err := sbrk.New(16 << 20)
	require.NoError(t, err)
	a := New(heap)
	require.NoError(t, a.Init())
	return a
}

func addr(p []byte) uintptr {
	if len(p) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&p[0]))
}

func overlap(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	lo1, hi1 := addr(a), addr(a)+uintptr(len(a))
	lo2, hi2 := addr(b), addr(b)+uintptr(len(b))
	return lo1 < hi2 && lo2 < hi1
}

func TestInit(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.Check(CheckDeep))
	// Only the initial chunk's free block is indexed.
	initial := bucketFor(initialChunkWords * wordSize)
	for i := range a.buckets {
		if i == initial {
			assert.EqualValues(t, firstBlockOff, a.buckets[i])
			continue
		}
		assert.Equal(t, nullOffset, a.buckets[i])
	}
}

func TestInit_RefusesTooSmallProvider(t *testing.T) {
	heap, err := sbrk.New(8)
	require.NoError(t, err)
	a := New(heap)
	assert.Error(t, a.Init())
}

func TestAlloc_ZeroReturnsNil(t *testing.T) {
	a := newTestAllocator(t)
	assert.Nil(t, a.Alloc(0))
	assert.Nil(t, a.Alloc(-1))
}

func TestAlloc_AlignedAndSized(t *testing.T) {
	a := newTestAllocator(t)
	sizes := []int{1, 7, 8, 24, 100, 1000, 8192}
	for _, n := range sizes {
		p := a.Alloc(n)
		require.NotNil(t, p, "n=%d", n)
		assert.Len(t, p, n)
		assert.Zero(t, addr(p)%alignment, "n=%d", n)
		require.NoError(t, a.Check(CheckFast))
	}
}

func TestAlloc_DistinctPayloadsDontOverlap(t *testing.T) {
	a := newTestAllocator(t)
	var live [][]byte
	for i := 0; i < 50; i++ {
		p := a.Alloc(16 + i*3)
		require.NotNil(t, p)
		for _, q := range live {
			assert.False(t, overlap(p, q))
		}
		live = append(live, p)
	}
	require.NoError(t, a.Check(CheckDeep))
}

func TestFree_NilIsNoop(t *testing.T) {
	a := newTestAllocator(t)
	a.Free(nil)
	require.NoError(t, a.Check(CheckDeep))
}

func TestFree_ThenAlloc_ReusesBlock(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Alloc(24)
	require.NotNil(t, p1)
	for i := range p1 {
		p1[i] = 'X'
	}
	a.Free(p1)
	p2 := a.Alloc(24)
	require.NotNil(t, p2)
	assert.Equal(t, addr(p1), addr(p2))
}

func TestRoundTrip(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Alloc(64)
	require.NotNil(t, p)
	pattern := make([]byte, 64)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	copy(p, pattern)
	got := make([]byte, 64)
	copy(got, p)
	assert.Equal(t, pattern, got)
}

func TestCalloc_ZeroesPayload(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Alloc(64)
	require.NotNil(t, p)
	for i := range p {
		p[i] = 0xFF
	}
	a.Free(p)

	q := a.Calloc(8, 8)
	require.NotNil(t, q)
	assert.Len(t, q, 64)
	for _, b := range q {
		assert.Zero(t, b)
	}
	require.NoError(t, a.Check(CheckDeep))
}

func TestCalloc_OverflowReturnsNil(t *testing.T) {
	a := newTestAllocator(t)
	assert.Nil(t, a.Calloc(1<<30, 1<<30))
	assert.Nil(t, a.Calloc(-1, 4))
}

func TestRealloc_NilActsAsAlloc(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Realloc(nil, 32)
	require.NotNil(t, p)
	assert.Len(t, p, 32)
}

func TestRealloc_ZeroActsAsFree(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Alloc(32)
	require.NotNil(t, p)
	got := a.Realloc(p, 0)
	assert.Nil(t, got)
	require.NoError(t, a.Check(CheckDeep))
}

func TestRealloc_ShrinkInPlace(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Alloc(256)
	require.NotNil(t, p)
	original := addr(p)
	p2 := a.Realloc(p, 16)
	require.NotNil(t, p2)
	assert.Equal(t, original, addr(p2))
	assert.Len(t, p2, 16)
	require.NoError(t, a.Check(CheckDeep))
}

func TestRealloc_GrowPreservesContent(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Alloc(64)
	require.NotNil(t, p)
	for i := range p {
		p[i] = byte(i + 1)
	}
	q := a.Alloc(64) // block neighbor so the first can't grow in place
	require.NotNil(t, q)

	grown := a.Realloc(p, 4096)
	require.NotNil(t, grown)
	for i := 0; i < 64; i++ {
		assert.Equal(t, byte(i+1), grown[i])
	}
	require.NoError(t, a.Check(CheckDeep))
}

func TestRandomizedAllocFreePattern(t *testing.T) {
	a := newTestAllocator(t)
	rng := rand.New(rand.NewSource(1))
	live := map[int][]byte{}
	for step := 0; step < 2000; step++ {
		if len(live) > 0 && rng.Intn(2) == 0 {
			for k, p := range live {
				a.Free(p)
				delete(live, k)
				break
			}
		} else {
			n := 1 + rng.Intn(512)
			p := a.Alloc(n)
			require.NotNil(t, p)
			live[step] = p
		}
		if step%97 == 0 {
			require.NoError(t, a.Check(CheckDeep))
		}
	}
	require.NoError(t, a.Check(CheckDeep))
}

func TestUseNextFit(t *testing.T) {
	heap, err := sbrk.New(16 << 20)
	require.NoError(t, err)
	a := New(heap)
	a.UseNextFit = true
	require.NoError(t, a.Init())

	var live [][]byte
	for i := 0; i < 20; i++ {
		p := a.Alloc(40)
		require.NotNil(t, p)
		live = append(live, p)
	}
	for i := 0; i < len(live); i += 2 {
		a.Free(live[i])
	}
	for i := 0; i < 5; i++ {
		p := a.Alloc(40)
		require.NotNil(t, p)
	}
	require.NoError(t, a.Check(CheckDeep))
}

func TestLogDepth_RecordsOperations(t *testing.T) {
	heap, err := sbrk.New(16 << 20)
	require.NoError(t, err)
	a := New(heap)
	a.LogDepth = 4
	require.NoError(t, a.Init())

	p := a.Alloc(32)
	require.NotNil(t, p)
	a.Free(p)

	recent := a.log.Recent(4)
	require.Len(t, recent, 4)
}
