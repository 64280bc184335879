package session

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vburojevic/kernelbridge/internal/domain"
)

func TestTrackerDetectsKernelChange(t *testing.T) {
	mock := clock.NewMock()
	tr := NewTracker(mock)
	log := &eventLog{}
	k1 := newFakeSession(1, domain.StatusIdle, log)
	k2 := newFakeSession(2, domain.StatusIdle, log)

	// first status initializes session
	change := tr.Observe(StatusChange{Session: k1, Connection: pythonConn, Status: domain.StatusIdle})
	if change == nil || change.StartSession == nil || change.StartSession.Session != 1 {
		t.Fatalf("expected initial session start")
	}
	if change.StartSession.Alert != "" {
		t.Fatalf("initial session must not carry an alert")
	}

	tr.Observe(StatusChange{Session: k1, Connection: pythonConn, Status: domain.StatusBusy})
	tr.Observe(StatusChange{Session: k1, Connection: pythonConn, Status: domain.StatusIdle})
	tr.Observe(StatusChange{Session: k1, Connection: pythonConn, Status: domain.StatusRestarting})
	mock.Add(3 * time.Second)

	// new kernel for the same connection is a restart
	change = tr.Observe(StatusChange{Session: k2, Connection: pythonConn, Status: domain.StatusIdle})
	if change == nil || change.StartSession == nil || change.StartSession.Session != 2 {
		t.Fatalf("expected session rollover on kernel change")
	}
	if change.StartSession.Alert != AlertKernelRestarted || change.StartSession.PreviousKernelID != "k1" {
		t.Fatalf("unexpected start event: %+v", change.StartSession)
	}
	if change.EndSession == nil || change.EndSession.Session != 1 {
		t.Fatalf("expected previous session to close")
	}
	sum := change.EndSession.Summary
	if sum.BusyPeriods != 1 || sum.Restarts != 1 || sum.StatusChanges != 4 || sum.DurationSeconds != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestTrackerFlagsConnectionChange(t *testing.T) {
	tr := NewTracker(clock.NewMock())
	log := &eventLog{}
	other := domain.NewLocalKernelSpecConnection(domain.KernelSpec{Name: "ir"}, nil)

	tr.Observe(StatusChange{Session: newFakeSession(1, domain.StatusIdle, log), Connection: pythonConn, Status: domain.StatusIdle})
	change := tr.Observe(StatusChange{Session: newFakeSession(2, domain.StatusIdle, log), Connection: other, Status: domain.StatusIdle})
	if change == nil || change.StartSession.Alert != AlertKernelChanged {
		t.Fatalf("expected KERNEL_CHANGED alert")
	}
	if final := tr.GetFinalSummary(); final == nil || final.KernelID != "k2" {
		t.Fatalf("expected final summary for k2")
	}
}
