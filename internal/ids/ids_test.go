package ids

import "testing"

func TestNewIsUniqueAndOrdered(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if next == prev {
			t.Fatalf("duplicate id: %s", next)
		}
		if next < prev {
			t.Fatalf("ids regressed: %s then %s", prev, next)
		}
		prev = next
	}
}
