package dcore

import (
	"context"
	"testing"
)

func TestOngoingSecondAcquireFails(t *testing.T) {
	var o Ongoing
	_, release, err := o.Acquire("backup")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer release()

	if _, _, err := o.Acquire("import"); err != ErrOngoingInProgress {
		t.Fatalf("expected ErrOngoingInProgress, got %v", err)
	}
	if got := o.InProgress(); got != "backup" {
		t.Fatalf("expected label %q, got %q", "backup", got)
	}
}

func TestOngoingReleaseThenReacquire(t *testing.T) {
	var o Ongoing
	_, release, err := o.Acquire("backup")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()

	if o.InProgress() != "" {
		t.Fatal("expected no operation in progress after release")
	}
	if _, _, err := o.Acquire("import"); err != nil {
		t.Fatalf("expected re-acquire to succeed, got %v", err)
	}
}

func TestOngoingCancelSignalsChannel(t *testing.T) {
	var o Ongoing
	cancelCh, release, err := o.Acquire("backup")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if Cancelled(context.Background(), cancelCh) {
		t.Fatal("expected not cancelled yet")
	}
	if !o.Cancel() {
		t.Fatal("expected Cancel to report a held operation")
	}
	if !Cancelled(context.Background(), cancelCh) {
		t.Fatal("expected Cancelled to observe the cancel")
	}
	// A second Cancel on an already-closed channel must not panic.
	o.Cancel()
}

func TestOngoingCancelWithoutHolderIsFalse(t *testing.T) {
	var o Ongoing
	if o.Cancel() {
		t.Fatal("expected Cancel to report false when nothing is held")
	}
}
