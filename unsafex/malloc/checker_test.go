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

func TestCheck_CleanHeapPasses(t *testing.T) {
	a := newTestAllocator(t)
	for i := 0; i < 10; i++ {
		p := a.Alloc(16 + i*8)
		require.NotNil(t, p)
		if i%3 == 0 {
			a.Free(p)
		}
	}
	assert.NoError(t, a.Check(CheckFast))
	assert.NoError(t, a.Check(CheckDeep))
}

func TestCheck_DetectsPrevAllocMismatch(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Alloc(32)
	p2 := a.Alloc(32)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	off2 := a.offsetOfPayload(p2)
	// Corrupt p2's prev_alloc bit directly, bypassing setPrevAllocOfNext.
	h := a.header(off2)
	a.setHeader(off2, withPrevAlloc(h, false))

	err := a.Check(CheckFast)
	require.Error(t, err)
}

func TestCheck_DetectsHeaderFooterMismatch(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Alloc(32)
	require.NotNil(t, p1)
	a.Free(p1)

	off1 := a.offsetOfPayload(p1)
	// Corrupt the footer only.
	a.setWord(footerOff(off1, a.blockSize(off1)), a.header(off1)+dwordSize)

	err := a.Check(CheckFast)
	require.Error(t, err)
}

func TestCheck_DetectsFreeSetDisagreement(t *testing.T) {
	a := newTestAllocator(t)
	p1 := a.Alloc(32)
	require.NotNil(t, p1)
	a.Free(p1)

	off1 := a.offsetOfPayload(p1)
	// Unlink from its bucket without marking it allocated: now a linear
	// scan finds it free, but no bucket claims it.
	a.removeFree(off1)

	err := a.Check(CheckDeep)
	require.Error(t, err)
}

func TestRegionChecksum_StableWhenIdle(t *testing.T) {
	a := newTestAllocator(t)
	p := a.Alloc(64)
	require.NotNil(t, p)

	h1 := a.RegionChecksum()
	h2 := a.RegionChecksum()
	assert.Equal(t, h1, h2)

	p[0] = p[0] + 1
	h3 := a.RegionChecksum()
	assert.NotEqual(t, h1, h3)
}
