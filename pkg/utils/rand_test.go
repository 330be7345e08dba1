package utils

import "testing"

func TestNewRandSource(t *testing.T) {
	if NewRandSource(12345) == nil {
		t.Fatal("Expected RandSource to be created")
	}
	if NewRandSource(0) == nil {
		t.Fatal("Expected RandSource to be created with zero seed")
	}
}

func TestRandSourceDeterministic(t *testing.T) {
	a := NewRandSource(1)
	b := NewRandSource(1)
	for i := 0; i < 50; i++ {
		if a.Intn(1000) != b.Intn(1000) {
			t.Fatalf("same seed produced different sequences at draw %d", i)
		}
	}
}
