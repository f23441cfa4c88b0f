package replica

import "testing"

func TestClockTickIncrements(t *testing.T) {
	c := &Clock{}
	if v := c.Tick(); v != 1 {
		t.Fatalf("expected first tick to be 1, got %d", v)
	}
	if v := c.Tick(); v != 2 {
		t.Fatalf("expected second tick to be 2, got %d", v)
	}
}

func TestClockObserveTakesMax(t *testing.T) {
	c := &Clock{}
	c.Tick() // value = 1

	if v := c.Observe(5); v != 6 {
		t.Fatalf("expected observe(5) after tick to be 6, got %d", v)
	}

	if v := c.Observe(2); v != 7 {
		t.Fatalf("expected observe(2) with local ahead to be 7, got %d", v)
	}
}

func TestClockValueDoesNotAdvance(t *testing.T) {
	c := &Clock{}
	c.Tick()
	c.Tick()
	if v := c.Value(); v != 2 {
		t.Fatalf("expected Value() to read 2 without advancing, got %d", v)
	}
	if v := c.Value(); v != 2 {
		t.Fatalf("expected repeated Value() calls to be stable, got %d", v)
	}
}
