package util

import (
	"testing"
	"time"
)

func TestCoalesce(t *testing.T) {
	if got := Coalesce(0, 4); got != 4 {
		t.Fatalf("Coalesce(0,4)=%d", got)
	}
	if got := Coalesce(2, 4); got != 2 {
		t.Fatalf("Coalesce(2,4)=%d", got)
	}
	if got := Coalesce(time.Duration(0), time.Second); got != time.Second {
		t.Fatalf("Coalesce duration=%v", got)
	}
	if got := Coalesce("", "x"); got != "x" {
		t.Fatalf("Coalesce string=%q", got)
	}
}

func TestStorageKey(t *testing.T) {
	if got := StorageKey("", "k"); got != "k" {
		t.Fatalf("got %q", got)
	}
	if got := StorageKey("mc:pool", "k"); got != "mc:pool:k" {
		t.Fatalf("got %q", got)
	}
}
