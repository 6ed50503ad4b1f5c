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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCoalesce_BothAllocated: freeing a block with allocated neighbors
// on both sides just inserts it.
func TestCoalesce_BothAllocated(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Alloc(32)
	p2 := a.Alloc(32)
	p3 := a.Alloc(32)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	require.NotNil(t, p3)

	off2 := a.offsetOfPayload(p2)
	sizeBefore := a.blockSize(off2)

	a.Free(p2)

	assert.Equal(t, sizeBefore, a.blockSize(off2))
	assert.False(t, a.isAlloc(off2))
	require.NoError(t, a.Check(CheckDeep))
}

// TestCoalesce_MergeWithNext: P allocated, N free.
func TestCoalesce_MergeWithNext(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Alloc(32)
	p2 := a.Alloc(32)
	p3 := a.Alloc(32)
	require.NotNil(t, p1)
	require.NotNil(t, p3)

	off1 := a.offsetOfPayload(p1)
	off2 := a.offsetOfPayload(p2)

	a.Free(p3)
	a.Free(p2) // merges forward into p3's old space

	assert.True(t, a.blockSize(off2) > a.blockSize(off1))
	assert.False(t, a.isAlloc(off2))
	require.NoError(t, a.Check(CheckDeep))
}

// TestCoalesce_MergeWithPrev: P free, N allocated.
func TestCoalesce_MergeWithPrev(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Alloc(32)
	p2 := a.Alloc(32)
	p3 := a.Alloc(32)
	require.NotNil(t, p2)
	require.NotNil(t, p3)

	off1 := a.offsetOfPayload(p1)

	a.Free(p1)
	a.Free(p2) // merges backward into p1

	assert.False(t, a.isAlloc(off1))
	require.NoError(t, a.Check(CheckDeep))
}

// TestCoalesce_MergeBoth: P and N both free.
func TestCoalesce_MergeBoth(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Alloc(32)
	p2 := a.Alloc(32)
	p3 := a.Alloc(32)
	require.NotNil(t, p1)
	require.NotNil(t, p2)
	require.NotNil(t, p3)

	off1 := a.offsetOfPayload(p1)

	a.Free(p1)
	a.Free(p3)
	a.Free(p2) // now merges with both neighbors into one big block

	assert.False(t, a.isAlloc(off1))
	// The merged block must now cover all three original payloads'
	// worth of space.
	full := a.blockSize(off1)
	assert.GreaterOrEqual(t, full, 3*adjustedSizeOf(32))
	require.NoError(t, a.Check(CheckDeep))
}

func adjustedSizeOf(n int) int {
	return int(adjustedSize(uint32(n)))
}
