package util

import "testing"

func TestContentChecksum(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := ContentChecksum([]byte("abc")); got != want {
		t.Errorf("ContentChecksum(abc) = %s, want %s", got, want)
	}
}

func TestContentChecksum_DistinctInputs(t *testing.T) {
	if ContentChecksum([]byte("hero-a")) == ContentChecksum([]byte("hero-b")) {
		t.Error("expected different checksums for different content")
	}
}
