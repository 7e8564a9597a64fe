package rpc

import (
	"errors"
	"testing"
)

func TestPendingTable_IdsSkipVoid(t *testing.T) {
	table := NewPendingTable()
	for want := uint64(1); want <= 9; want++ {
		id, _, err := table.Add()
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if id != want {
			t.Fatalf("id = %d, want %d", id, want)
		}
	}
	if table.Len() != 9 {
		t.Errorf("Len = %d, want 9", table.Len())
	}
}

func TestPendingTable_OutOfOrderResolution(t *testing.T) {
	table := NewPendingTable()

	slots := make(map[uint64]<-chan Outcome)
	for i := 0; i < 9; i++ {
		id, slot, err := table.Add()
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		slots[id] = slot
	}

	order := []uint64{5, 1, 9, 3, 7, 2, 8, 4, 6}
	for _, id := range order {
		result := mustMarshal(t, id*10)
		if !table.Resolve(SuccessResponse(id, result)) {
			t.Fatalf("Resolve(%d) = false", id)
		}
	}

	for id, slot := range slots {
		outcome := <-slot
		var got uint64
		if err := DecodeResult(outcome.Response.Result, &got); err != nil {
			t.Fatalf("decode %d: %v", id, err)
		}
		if got != id*10 {
			t.Errorf("slot %d got %d, want %d", id, got, id*10)
		}
	}
	if table.Len() != 0 {
		t.Errorf("Len = %d after resolving all", table.Len())
	}
}

func TestPendingTable_UnknownAndDuplicate(t *testing.T) {
	table := NewPendingTable()
	id, _, _ := table.Add()

	if table.Resolve(SuccessResponse(id+100, nil)) {
		t.Error("Resolve of unknown id returned true")
	}
	if !table.Resolve(SuccessResponse(id, nil)) {
		t.Fatal("first Resolve returned false")
	}
	if table.Resolve(SuccessResponse(id, nil)) {
		t.Error("second Resolve of same id returned true")
	}
}

func TestPendingTable_Cancel(t *testing.T) {
	table := NewPendingTable()
	id, _, _ := table.Add()

	if !table.Cancel(id) {
		t.Fatal("Cancel returned false")
	}
	if table.Resolve(SuccessResponse(id, nil)) {
		t.Error("late response resolved a cancelled slot")
	}
}

func TestPendingTable_RejectAll(t *testing.T) {
	table := NewPendingTable()
	_, a, _ := table.Add()
	_, b, _ := table.Add()

	if n := table.RejectAll(ErrPeerClosed); n != 2 {
		t.Fatalf("RejectAll = %d, want 2", n)
	}
	for _, slot := range []<-chan Outcome{a, b} {
		if out := <-slot; !errors.Is(out.Err, ErrPeerClosed) {
			t.Errorf("outcome err = %v, want ErrPeerClosed", out.Err)
		}
	}
	if _, _, err := table.Add(); !errors.Is(err, ErrPeerClosed) {
		t.Errorf("Add after RejectAll = %v, want ErrPeerClosed", err)
	}
}
