package reservation

import (
	"context"
	"errors"
	"testing"
)

func TestCreateRejectsDuplicateKind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, Record{OwnerID: "rider-1", Kind: Boarding, StopID: "100"}); err != nil {
		t.Fatalf("First create failed: %v", err)
	}

	_, err := s.Create(ctx, Record{OwnerID: "rider-1", Kind: Boarding, StopID: "200"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate for second boarding record, got %v", err)
	}

	// A different kind for the same owner is fine.
	if _, err := s.Create(ctx, Record{OwnerID: "rider-1", Kind: Alighting, StopID: "300"}); err != nil {
		t.Errorf("Alighting create alongside boarding failed: %v", err)
	}

	// Another owner is unaffected.
	if _, err := s.Create(ctx, Record{OwnerID: "rider-2", Kind: Boarding, StopID: "100"}); err != nil {
		t.Errorf("Create for second owner failed: %v", err)
	}
}

func TestCancelAllNonexistentReturnsZero(t *testing.T) {
	s := NewMemoryStore()

	n, err := s.CancelAll(context.Background(), Boarding, "nobody")
	if err != nil {
		t.Fatalf("CancelAll returned error: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 deleted, got %d", n)
	}
}

func TestCancelAllFiltersByKind(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, Record{OwnerID: "rider-1", Kind: Boarding, StopID: "100"}); err != nil {
		t.Fatalf("Boarding create failed: %v", err)
	}
	if _, err := s.Create(ctx, Record{OwnerID: "rider-1", Kind: Alighting, StopID: "200"}); err != nil {
		t.Fatalf("Alighting create failed: %v", err)
	}

	n, err := s.CancelAll(ctx, Boarding, "rider-1")
	if err != nil {
		t.Fatalf("CancelAll failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 boarding record deleted, got %d", n)
	}
	if live := s.Live("rider-1"); live != 1 {
		t.Errorf("Expected the alighting record to survive, %d live records", live)
	}
}

func TestCancelThenCreateSucceeds(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, Record{OwnerID: "rider-1", Kind: Boarding, StopID: "100"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.CancelAll(ctx, Boarding, "rider-1"); err != nil {
		t.Fatalf("CancelAll failed: %v", err)
	}
	if _, err := s.Create(ctx, Record{OwnerID: "rider-1", Kind: Boarding, StopID: "200"}); err != nil {
		t.Errorf("Create after cancel failed: %v", err)
	}
}
