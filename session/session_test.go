package session

import (
	"testing"
)

func TestRegisterCompleteDeliversResult(t *testing.T) {
	tbl := New()
	id := tbl.NextSessionID()

	var gotCode int32
	var gotBody []byte
	if err := tbl.Register(&PendingSession{
		SessionID:  id,
		Handle:     1,
		DeadlineMs: 1_000_000,
		OnResponse: func(code int32, body []byte) {
			gotCode, gotBody = code, body
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}

	tbl.Complete(id, 0, []byte("pong"))

	if gotCode != 0 || string(gotBody) != "pong" {
		t.Errorf("got (%d, %q), want (0, \"pong\")", gotCode, gotBody)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d, want 0 after Complete", tbl.Len())
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	tbl := New()
	p := &PendingSession{SessionID: 5, Handle: 1, DeadlineMs: 1000}
	if err := tbl.Register(p); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := tbl.Register(&PendingSession{SessionID: 5, Handle: 1, DeadlineMs: 2000})
	if _, ok := err.(Duplicate); !ok {
		t.Fatalf("second Register error = %v, want Duplicate", err)
	}
}

func TestCompleteAbsentIsNoop(t *testing.T) {
	tbl := New()
	called := false
	tbl.Complete(999, 0, nil) // no panic, no callback
	if called {
		t.Fatal("callback invoked for absent session")
	}
}

func TestCompleteFiresExactlyOnce(t *testing.T) {
	tbl := New()
	id := tbl.NextSessionID()
	fires := 0
	tbl.Register(&PendingSession{
		SessionID:  id,
		Handle:     1,
		DeadlineMs: 1000,
		OnResponse: func(int32, []byte) { fires++ },
	})
	tbl.Complete(id, 0, nil)
	tbl.Complete(id, 0, nil) // late duplicate reply: silently dropped
	if fires != 1 {
		t.Errorf("fires = %d, want 1", fires)
	}
}

func TestTickExpiresInDeadlineOrder(t *testing.T) {
	tbl := New()
	var order []uint64

	for i, deadline := range []int64{300, 100, 200} {
		id := uint64(i + 1)
		deadline := deadline
		tbl.Register(&PendingSession{
			SessionID:  id,
			Handle:     1,
			DeadlineMs: deadline,
			OnResponse: func(code int32, body []byte) {
				if code != -1 {
					t.Errorf("session %d: code = %d, want RpcTimeout(-1)", id, code)
				}
				order = append(order, id)
			},
		})
	}

	tbl.Tick(1000, -1)

	want := []uint64{2, 3, 1} // deadlines 100, 200, 300
	if len(order) != len(want) {
		t.Fatalf("fired %d sessions, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d, want 0 after Tick", tbl.Len())
	}
}

func TestTickLeavesUnexpiredSessions(t *testing.T) {
	tbl := New()
	tbl.Register(&PendingSession{SessionID: 1, Handle: 1, DeadlineMs: 100})
	tbl.Register(&PendingSession{SessionID: 2, Handle: 1, DeadlineMs: 500})

	tbl.Tick(200, -1)

	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
}

func TestCancelAllCompletesOnlyMatchingHandle(t *testing.T) {
	tbl := New()
	var codes []int32
	cb := func(code int32, _ []byte) { codes = append(codes, code) }

	tbl.Register(&PendingSession{SessionID: 1, Handle: 10, DeadlineMs: 1000, OnResponse: cb})
	tbl.Register(&PendingSession{SessionID: 2, Handle: 10, DeadlineMs: 1000, OnResponse: cb})
	tbl.Register(&PendingSession{SessionID: 3, Handle: 20, DeadlineMs: 1000, OnResponse: cb})

	tbl.CancelAll(10, -2)

	if len(codes) != 2 {
		t.Fatalf("fired %d callbacks, want 2", len(codes))
	}
	for _, c := range codes {
		if c != -2 {
			t.Errorf("code = %d, want -2 (ChannelClosed)", c)
		}
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (handle 20 untouched)", tbl.Len())
	}
}

func TestNextSessionIDMonotonic(t *testing.T) {
	tbl := New()
	a := tbl.NextSessionID()
	b := tbl.NextSessionID()
	if b <= a {
		t.Errorf("NextSessionID not monotonic: %d then %d", a, b)
	}
}
