package classify_test

import (
	"testing"

	"github.com/xskforge/xskforge/classify"
)

func TestDropAllAlwaysDrops(t *testing.T) {
	c := classify.DropAll()
	if got := c([]byte("x"), 7); got != -1 {
		t.Fatalf("DropAll returned %d, want -1", got)
	}
}

func TestReflectUsesIngressPosition(t *testing.T) {
	c := classify.Reflect(map[int]int{3: 0, 5: 1})
	if got := c(nil, 3); got != 0 {
		t.Fatalf("Reflect(ifindex=3) = %d, want 0", got)
	}
	if got := c(nil, 5); got != 1 {
		t.Fatalf("Reflect(ifindex=5) = %d, want 1", got)
	}
	if got := c(nil, 99); got != -1 {
		t.Fatalf("Reflect(unknown ifindex) = %d, want -1", got)
	}
}

func TestCrossForwardSwapsInterfaces(t *testing.T) {
	c := classify.CrossForward(10, 0, 20, 1)
	if got := c(nil, 10); got != 1 {
		t.Fatalf("CrossForward(ifindex=10) = %d, want 1", got)
	}
	if got := c(nil, 20); got != 0 {
		t.Fatalf("CrossForward(ifindex=20) = %d, want 0", got)
	}
	if got := c(nil, 30); got != -1 {
		t.Fatalf("CrossForward(unknown ifindex) = %d, want -1", got)
	}
}
