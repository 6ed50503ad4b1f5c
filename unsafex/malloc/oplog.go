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

import "github.com/cloudwego/galloc/container/ring"

// opKind identifies which public Allocator method produced an opRecord.
type opKind uint8

const (
	opAlloc opKind = iota
	opFree
	opRealloc
)

func (k opKind) String() string {
	switch k {
	case opAlloc:
		return "alloc"
	case opFree:
		return "free"
	case opRealloc:
		return "realloc"
	default:
		return "unknown"
	}
}

// opRecord is one entry in an Allocator's operation history: which public
// call was made and its size argument (Free's n is the freed block's
// reported length, not an input the caller passed).
type opRecord struct {
	kind opKind
	n    int
}

// oplog is a bounded, overwriting history of recent public-API calls,
// built on container/ring. It exists purely for post-mortem debugging:
// when a heap-checker assertion fails, dumping the last few operations
// that led up to it is far more useful than the corrupted state alone.
type oplog struct {
	r    *ring.Ring[opRecord]
	next int
}

// newOplog allocates a ring of the given depth. depth <= 0 is treated as
// 1, since a zero-length ring cannot record anything.
func newOplog(depth int) *oplog {
	if depth <= 0 {
		depth = 1
	}
	return &oplog{r: ring.NewFromSlice(make([]opRecord, depth))}
}

// record overwrites the oldest slot with a new entry and advances the
// cursor.
func (l *oplog) record(kind opKind, n int) {
	item, ok := l.r.Get(l.next)
	if !ok {
		return
	}
	*item.Pointer() = opRecord{kind: kind, n: n}
	nextItem, _ := l.r.Next(l.next)
	l.next = nextItem.Index()
}

// Recent returns up to count recorded operations in ring storage order.
// Before the ring has wrapped once, trailing slots are still
// zero-valued (opAlloc with n=0) rather than omitted - callers that care
// should request count <= the number of calls actually made so far.
func (l *oplog) Recent(count int) []opRecord {
	depth := l.r.Len()
	if count <= 0 || count > depth {
		count = depth
	}
	out := make([]opRecord, 0, count)
	l.r.Do(func(v *opRecord) {
		out = append(out, *v)
	})
	if len(out) > count {
		out = out[:count]
	}
	return out
}
