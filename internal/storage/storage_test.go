package storage

import (
	"errors"
	"reflect"
	"testing"
)

func TestChunks(t *testing.T) {
	got := Chunks(7, 3)
	want := [][2]int{{0, 3}, {3, 6}, {6, 7}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("chunks mismatch: %v != %v", got, want)
	}

	if got := Chunks(0, 3); len(got) != 0 {
		t.Fatalf("expected no chunks, got %v", got)
	}
	if got := Chunks(4, 0); !reflect.DeepEqual(got, [][2]int{{0, 4}}) {
		t.Fatalf("expected single chunk, got %v", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Fatalf("expected nil")
	}
	if err := Wrap("op", ErrNotFound); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound passthrough, got %v", err)
	}

	cause := errors.New("connection refused")
	err := Wrap("put pools", cause)
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage classification")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	if err.Error() != "storage put pools: connection refused" {
		t.Fatalf("unexpected message: %s", err)
	}
}

func TestCapacityNormalize(t *testing.T) {
	got := Capacity{Write: 25}.Normalize()
	if got.Read != 10 || got.Write != 25 {
		t.Fatalf("unexpected capacity: %+v", got)
	}
}
