package sysmem

import "testing"

func TestFreeMBReturnsPositiveValue(t *testing.T) {
	mb, err := FreeMB()
	if err != nil {
		t.Fatalf("FreeMB: %v", err)
	}
	if mb <= 0 {
		t.Fatalf("expected positive free memory reading, got %d", mb)
	}
}
