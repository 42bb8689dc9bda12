// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package syncx

import (
	"sync"
	"testing"
)

func TestProtected(t *testing.T) {
	p := Protect(make(map[string]int))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Access(func(m map[string]int) {
				m["count"]++
			})
		}()
	}
	wg.Wait()

	var got int
	p.ReadAccess(func(m map[string]int) {
		got = m["count"]
	})
	if got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}

func TestLazy(t *testing.T) {
	var (
		l     Lazy[int]
		calls int
	)
	compute := func() int {
		calls++
		return 42
	}
	for range 3 {
		if got := l.Get(compute); got != 42 {
			t.Errorf("Get returned %d, want 42", got)
		}
	}
	if calls != 1 {
		t.Errorf("compute function called %d times, want 1", calls)
	}
}
