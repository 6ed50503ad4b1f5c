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

package malloc_test

import (
	"fmt"

	"github.com/cloudwego/galloc/sbrk"
	"github.com/cloudwego/galloc/unsafex/malloc"
)

func Example() {
	heap, err := sbrk.New(1 << 20)
	if err != nil {
		panic(err)
	}
	a := malloc.New(heap)
	if err := a.Init(); err != nil {
		panic(err)
	}

	buf := a.Alloc(128)
	copy(buf, []byte("hello"))

	buf = a.Realloc(buf, 256)
	fmt.Println(len(buf), string(buf[:5]))

	a.Free(buf)
	// Output:
	// 256 hello
}
