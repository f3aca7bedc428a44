package breaker

import (
	"testing"
	"time"
)

func TestBankTripsAfterConsecutiveFailures(t *testing.T) {
	b := NewBank(3, time.Minute, nil)
	now := time.Now()

	for i := 0; i < 2; i++ {
		b.ReportFailure("orders", now)
		if got := b.State("orders"); got != StateClosed {
			t.Fatalf("state after %d failures = %s, want CLOSED", i+1, got)
		}
	}

	b.ReportFailure("orders", now)
	if got := b.State("orders"); got != StateOpen {
		t.Fatalf("state after threshold = %s, want OPEN", got)
	}
	if b.Allow("orders", now) != Rejected {
		t.Fatalf("open circuit must reject before the reset timeout")
	}
	if !b.Rejects("orders", now) {
		t.Fatalf("Rejects must report true while open")
	}
}

func TestBankSuccessResetsFailureCount(t *testing.T) {
	b := NewBank(3, time.Minute, nil)
	now := time.Now()

	b.ReportFailure("orders", now)
	b.ReportFailure("orders", now)
	b.ReportSuccess("orders", now)
	b.ReportFailure("orders", now)
	b.ReportFailure("orders", now)

	if got := b.State("orders"); got != StateClosed {
		t.Fatalf("state = %s, want CLOSED after counter reset", got)
	}
}

func TestBankHalfOpenAllowsExactlyOneTrial(t *testing.T) {
	b := NewBank(1, time.Minute, nil)
	start := time.Now()

	b.ReportFailure("orders", start)
	if b.State("orders") != StateOpen {
		t.Fatalf("expected circuit to open")
	}

	afterTimeout := start.Add(time.Minute + time.Second)
	if got := b.Allow("orders", afterTimeout); got != Trial {
		t.Fatalf("first Allow after timeout = %v, want Trial", got)
	}
	if b.State("orders") != StateHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", b.State("orders"))
	}
	if got := b.Allow("orders", afterTimeout); got != Rejected {
		t.Fatalf("second Allow during trial = %v, want Rejected", got)
	}
}

func TestBankTrialSuccessCloses(t *testing.T) {
	b := NewBank(1, time.Minute, nil)
	start := time.Now()
	b.ReportFailure("orders", start)

	afterTimeout := start.Add(2 * time.Minute)
	if b.Allow("orders", afterTimeout) != Trial {
		t.Fatalf("expected trial disposition")
	}
	b.ReportSuccess("orders", afterTimeout)

	if got := b.State("orders"); got != StateClosed {
		t.Fatalf("state after trial success = %s, want CLOSED", got)
	}
	if b.Allow("orders", afterTimeout) != Proceed {
		t.Fatalf("closed circuit must proceed")
	}
}

func TestBankTrialFailureReopens(t *testing.T) {
	b := NewBank(1, time.Minute, nil)
	start := time.Now()
	b.ReportFailure("orders", start)

	afterTimeout := start.Add(2 * time.Minute)
	if b.Allow("orders", afterTimeout) != Trial {
		t.Fatalf("expected trial disposition")
	}
	b.ReportFailure("orders", afterTimeout)

	if got := b.State("orders"); got != StateOpen {
		t.Fatalf("state after trial failure = %s, want OPEN", got)
	}
	// The reset window restarts from the failed trial, not the original trip.
	if b.Allow("orders", afterTimeout.Add(30*time.Second)) != Rejected {
		t.Fatalf("circuit must stay open until a fresh timeout elapses")
	}
	if b.Allow("orders", afterTimeout.Add(2*time.Minute)) != Trial {
		t.Fatalf("a fresh timeout must grant a new trial")
	}
}

func TestBankCancelTrialFreesSlot(t *testing.T) {
	b := NewBank(1, time.Minute, nil)
	start := time.Now()
	b.ReportFailure("orders", start)

	afterTimeout := start.Add(2 * time.Minute)
	if b.Allow("orders", afterTimeout) != Trial {
		t.Fatalf("expected trial disposition")
	}
	b.CancelTrial("orders")

	if b.Rejects("orders", afterTimeout) {
		t.Fatalf("Rejects must report false after the trial is handed back")
	}
	if got := b.Allow("orders", afterTimeout); got != Trial {
		t.Fatalf("Allow after cancel = %v, want a fresh Trial", got)
	}
	// Cancelling outside a trial is a no-op.
	b.ReportSuccess("orders", afterTimeout)
	b.CancelTrial("orders")
	if got := b.State("orders"); got != StateClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}
}

func TestBankSetStateForcesAndAudits(t *testing.T) {
	b := NewBank(5, time.Minute, nil)

	var audited []string
	b.SetAuditSink(func(dest string, state State, reason string) {
		audited = append(audited, dest+":"+string(state)+":"+reason)
	})

	now := time.Now()
	b.SetState("orders", StateOpen, "maintenance", now)
	if b.State("orders") != StateOpen {
		t.Fatalf("forced open did not stick")
	}
	if b.Allow("orders", now) != Rejected {
		t.Fatalf("forced-open circuit must reject")
	}

	b.SetState("orders", StateClosed, "maintenance done", now)
	if b.Allow("orders", now) != Proceed {
		t.Fatalf("forced-closed circuit must proceed")
	}

	if len(audited) != 2 {
		t.Fatalf("expected 2 audit entries, got %d: %v", len(audited), audited)
	}
	if audited[0] != "orders:OPEN:maintenance" {
		t.Fatalf("unexpected audit entry %q", audited[0])
	}
}

func TestBankSnapshotSorted(t *testing.T) {
	b := NewBank(1, time.Minute, nil)
	now := time.Now()
	b.ReportFailure("zeta", now)
	b.ReportSuccess("alpha", now)

	infos := b.Snapshot()
	if len(infos) != 2 {
		t.Fatalf("expected 2 circuits, got %d", len(infos))
	}
	if infos[0].Destination != "alpha" || infos[1].Destination != "zeta" {
		t.Fatalf("snapshot not sorted: %+v", infos)
	}
	if infos[1].State != StateOpen {
		t.Fatalf("zeta state = %s, want OPEN", infos[1].State)
	}
}

func TestValidState(t *testing.T) {
	for _, s := range []State{StateClosed, StateOpen, StateHalfOpen} {
		if !ValidState(s) {
			t.Fatalf("%s should be valid", s)
		}
	}
	if ValidState(State("ajar")) {
		t.Fatalf("unknown state accepted")
	}
}
