package ids

import "testing"

func TestNewIsMonotonic(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("id %q not after %q", next, prev)
		}
		prev = next
	}
}
