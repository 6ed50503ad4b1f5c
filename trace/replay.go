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

package trace

import (
	"fmt"
	"unsafe"

	"github.com/cloudwego/galloc/unsafex/malloc"
)

// Replayer drives a malloc.Allocator through a parsed trace, tracking the
// live payload for every id so later 'f'/'r' lines can resolve it back to
// an address.
type Replayer struct {
	Allocator *malloc.Allocator

	// Verify, if true, calls Allocator.Check(CheckLevel) after every op
	// and aborts the replay on the first violated invariant.
	Verify     bool
	CheckLevel malloc.CheckLevel

	// Events records, in order, the address each 'a'/'r' line resolved
	// to - useful for scenario assertions like "A4 == A1" that the trace
	// format itself can't express.
	Events []Event
}

// Event is one recorded allocate/reallocate outcome.
type Event struct {
	Op   Op
	Addr uintptr
}

func addrOf(p []byte) uintptr {
	if len(p) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&p[0]))
}

// Replay executes every op in order and returns the map of ids still
// live at the end (id -> payload). It stops and returns an error on the
// first failed allocation, unknown id, or (if Verify is set) checker
// violation.
func (rp *Replayer) Replay(ops []Op) (map[string][]byte, error) {
	live := make(map[string][]byte)

	for _, op := range ops {
		switch op.Kind {
		case Alloc:
			p := rp.Allocator.Alloc(op.Size)
			if p == nil {
				return nil, fmt.Errorf("trace: line %d: allocate(%d) for id %q returned nil", op.Line, op.Size, op.ID)
			}
			live[op.ID] = p
			rp.Events = append(rp.Events, Event{Op: op, Addr: addrOf(p)})

		case Free:
			p, ok := live[op.ID]
			if !ok {
				return nil, fmt.Errorf("trace: line %d: free of unknown id %q", op.Line, op.ID)
			}
			rp.Allocator.Free(p)
			delete(live, op.ID)

		case Realloc:
			p := live[op.ID] // nil is fine: Realloc(nil, n) behaves as Alloc(n)
			np := rp.Allocator.Realloc(p, op.Size)
			if op.Size > 0 && np == nil {
				return nil, fmt.Errorf("trace: line %d: reallocate(%q, %d) returned nil", op.Line, op.ID, op.Size)
			}
			if op.Size <= 0 {
				delete(live, op.ID)
			} else {
				live[op.ID] = np
			}
			rp.Events = append(rp.Events, Event{Op: op, Addr: addrOf(np)})
		}

		if rp.Verify {
			if err := rp.Allocator.Check(rp.CheckLevel); err != nil {
				return nil, fmt.Errorf("trace: line %d: %w", op.Line, err)
			}
		}
	}

	return live, nil
}
