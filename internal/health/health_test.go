package health

import "testing"

func TestCheckerStartsNotReady(t *testing.T) {
	c := New()
	if c.IsReady() {
		t.Fatal("a freshly constructed Checker must not be ready")
	}
}

func TestCheckerMarkReady(t *testing.T) {
	c := New()
	c.MarkReady()
	if !c.IsReady() {
		t.Fatal("MarkReady must flip IsReady to true")
	}
}
