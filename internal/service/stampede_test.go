package service

import (
	"sync"
	"testing"
)

// TestStampedeTracker_Begin verifies begin counts concurrent misses per key and that
// release decrements until the key is removed.
func TestStampedeTracker_Begin(t *testing.T) {
	st := newStampedeTracker()
	key := "location:curitiba"

	n1, done1 := st.begin(key)
	if n1 != 1 {
		t.Errorf("first begin = %d, want 1", n1)
	}
	n2, done2 := st.begin(key)
	if n2 != 2 {
		t.Errorf("second begin = %d, want 2", n2)
	}
	if n, done := st.begin("location:other"); n != 1 {
		t.Errorf("other key begin = %d, want 1", n)
	} else {
		done()
	}

	done1()
	if got := st.inProgress(key); got != 1 {
		t.Errorf("after one release inProgress = %d, want 1", got)
	}
	done2()
	if got := st.inProgress(key); got != 0 {
		t.Errorf("after all released inProgress = %d, want 0", got)
	}
}

// TestStampedeTracker_ReleaseOnce verifies calling a release func twice only decrements once.
func TestStampedeTracker_ReleaseOnce(t *testing.T) {
	st := newStampedeTracker()
	key := "location:curitiba"

	_, done1 := st.begin(key)
	_, done2 := st.begin(key)
	done1()
	done1()
	if got := st.inProgress(key); got != 1 {
		t.Errorf("inProgress = %d, want 1", got)
	}
	done2()
}

// TestStampedeTracker_Concurrent verifies concurrent begin/release calls leave no residue.
func TestStampedeTracker_Concurrent(t *testing.T) {
	st := newStampedeTracker()
	key := "location:sao paulo"
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, done := st.begin(key)
			done()
		}()
	}
	wg.Wait()
	if got := st.inProgress(key); got != 0 {
		t.Errorf("after concurrent ops inProgress = %d, want 0", got)
	}
}
