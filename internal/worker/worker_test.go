package worker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"udskrivning22/internal/ats"
	"udskrivning22/internal/config"
	"udskrivning22/internal/dashboard"
	"udskrivning22/internal/domain"
	"udskrivning22/internal/engine"
	"udskrivning22/internal/worker"
)

// stubQueues resolves nothing, so every stage skips as misconfigured and a
// cycle finishes almost instantly.
type stubQueues struct{}

func (stubQueues) ResolveQueue(ctx context.Context, name string) (domain.Workqueue, error) {
	return domain.Workqueue{}, fmt.Errorf("%w: %s", ats.ErrQueueNotFound, name)
}
func (stubQueues) ListItems(ctx context.Context, q domain.Workqueue) ([]domain.WorkItem, error) {
	return nil, nil
}
func (stubQueues) References(ctx context.Context, q domain.Workqueue) (map[string]bool, error) {
	return nil, nil
}
func (stubQueues) AddItem(ctx context.Context, q domain.Workqueue, reference string, data map[string]any) error {
	return nil
}
func (stubQueues) UpdateItemStatus(ctx context.Context, itemID int64, status domain.ItemStatus, message string) error {
	return nil
}

type stubDashboard struct{}

func (stubDashboard) ProcessByName(ctx context.Context, name string) (domain.Process, error) {
	return domain.Process{}, dashboard.ErrProcessNotFound
}
func (stubDashboard) RunningRuns(ctx context.Context, processID int64) ([]domain.ProcessRun, error) {
	return nil, nil
}

type stubBookings struct{}

func (stubBookings) BookingsForCitizen(ctx context.Context, cpr, description string) ([]domain.Booking, error) {
	return nil, nil
}

type stubForms struct{}

func (stubForms) Unjournalized(ctx context.Context, formTypes []string) ([]domain.FormRecord, error) {
	return nil, nil
}
func (stubForms) CitizenForms(ctx context.Context, cpr string, formTypes []string) ([]domain.FormRecord, error) {
	return nil, nil
}

func newTestWorker() *worker.Worker {
	eng := engine.New(stubQueues{}, stubDashboard{}, stubBookings{}, stubForms{}, config.Default(), nil)
	return worker.New(eng, time.Hour, time.Minute, nil)
}

func TestRunStopsPromptlyDuringSleep(t *testing.T) {
	w := newTestWorker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	// wait for the first cycle to land, then cancel mid-sleep
	deadline := time.Now().Add(2 * time.Second)
	for w.LastCycle() == nil {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop within a second of cancellation")
	}
	if w.State() != worker.StateStopped {
		t.Fatalf("state = %q, want stopped", w.State())
	}
}

func TestRunRecordsLastCycle(t *testing.T) {
	w := newTestWorker()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for w.LastCycle() == nil {
		if time.Now().After(deadline) {
			t.Fatal("no cycle recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	last := w.LastCycle()
	if last.ID == "" {
		t.Fatal("last cycle has no id")
	}
	if last.Finished.Before(last.Started) {
		t.Fatalf("finished %v before started %v", last.Finished, last.Started)
	}
}

func TestRunDoesNotStartWhenAlreadyCancelled(t *testing.T) {
	w := newTestWorker()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on pre-cancelled context")
	}
	if w.LastCycle() != nil {
		t.Fatal("no cycle should run on a cancelled context")
	}
}
