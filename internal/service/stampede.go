package service

import "sync"

// stampedeTracker counts cache misses in progress per key. A count above 1 means
// several requests missed the same key at once.
type stampedeTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{active: make(map[string]int)}
}

// begin registers a miss for key and returns the number of misses now in progress.
// Call the returned func when the miss is resolved.
func (st *stampedeTracker) begin(key string) (int, func()) {
	st.mu.Lock()
	st.active[key]++
	n := st.active[key]
	st.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() {
			st.mu.Lock()
			defer st.mu.Unlock()
			if st.active[key] <= 1 {
				delete(st.active, key)
				return
			}
			st.active[key]--
		})
	}
}

func (st *stampedeTracker) inProgress(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.active[key]
}
