// Package engine holds the reconciliation rules that move citizens through
// the dental-discharge pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"udskrivning22/internal/ats"
	"udskrivning22/internal/config"
	"udskrivning22/internal/dashboard"
	"udskrivning22/internal/domain"
)

// statusUpdatedMessage is the operator-visible note attached when the
// worker advances an item.
const statusUpdatedMessage = "Status opdateret af service"

// QueueAPI is the workqueue gateway the engine drives.
type QueueAPI interface {
	ResolveQueue(ctx context.Context, name string) (domain.Workqueue, error)
	ListItems(ctx context.Context, q domain.Workqueue) ([]domain.WorkItem, error)
	References(ctx context.Context, q domain.Workqueue) (map[string]bool, error)
	AddItem(ctx context.Context, q domain.Workqueue, reference string, data map[string]any) error
	UpdateItemStatus(ctx context.Context, itemID int64, status domain.ItemStatus, message string) error
}

// ProcessAPI reads process definitions and runs from the dashboard.
type ProcessAPI interface {
	ProcessByName(ctx context.Context, name string) (domain.Process, error)
	RunningRuns(ctx context.Context, processID int64) ([]domain.ProcessRun, error)
}

// BookingSource reads the appointment database.
type BookingSource interface {
	BookingsForCitizen(ctx context.Context, cpr, description string) ([]domain.Booking, error)
}

// FormSource reads the journalizing form log.
type FormSource interface {
	Unjournalized(ctx context.Context, formTypes []string) ([]domain.FormRecord, error)
	CitizenForms(ctx context.Context, cpr string, formTypes []string) ([]domain.FormRecord, error)
}

type Engine struct {
	Queues    QueueAPI
	Dashboard ProcessAPI
	Bookings  BookingSource
	Forms     FormSource
	Config    *config.Config
	Log       *slog.Logger
	Now       func() time.Time
}

func New(queues QueueAPI, dash ProcessAPI, bookings BookingSource, forms FormSource, cfg *config.Config, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		Queues:    queues,
		Dashboard: dash,
		Bookings:  bookings,
		Forms:     forms,
		Config:    cfg,
		Log:       log,
		Now:       time.Now,
	}
}

// ConfigError marks a misconfiguration (missing process, step, or queue).
// Retrying will not cure it; the stage is skipped and an operator should
// look at it.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// IsConfigErr reports whether an error signals misconfiguration rather than
// transient load.
func IsConfigErr(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) ||
		errors.Is(err, ats.ErrQueueNotFound) ||
		errors.Is(err, dashboard.ErrProcessNotFound)
}

// StageStats counts what one stage did in one cycle.
type StageStats struct {
	Examined int `json:"examined"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
	Appended int `json:"appended"`
	Skipped  int `json:"skipped"`
}

// CycleStats describes one full reconciliation cycle.
type CycleStats struct {
	ID       string     `json:"id"`
	Started  time.Time  `json:"started"`
	Finished time.Time  `json:"finished"`
	Bookings StageStats `json:"bookings"`
	Forms    StageStats `json:"forms"`
	Final    StageStats `json:"final"`
	Error    string     `json:"error,omitempty"`
}

// Cycle runs the three stages strictly in order: booking reconciliation,
// form harvest, final-queue readiness. Stage order matters: stage 3's
// readiness predicate depends on step signals stage 1 may just have
// advanced. Misconfigured stages are skipped loudly; any other error aborts
// the cycle so the supervising loop can back off and retry it whole.
func (e Engine) Cycle(ctx context.Context) (CycleStats, error) {
	stats := CycleStats{ID: uuid.NewString(), Started: e.now()}
	log := e.Log.With("cycle", stats.ID)
	log.InfoContext(ctx, "cycle started")

	stages := []struct {
		name string
		dst  *StageStats
		run  func(context.Context) (StageStats, error)
	}{
		{"bookings", &stats.Bookings, e.ReconcileBookings},
		{"forms", &stats.Forms, e.HarvestForms},
		{"final", &stats.Final, e.EnqueueReady},
	}
	for _, stage := range stages {
		s, err := stage.run(ctx)
		*stage.dst = s
		if err != nil {
			if IsConfigErr(err) {
				log.ErrorContext(ctx, "stage misconfigured, skipping until fixed", "stage", stage.name, "err", err)
				continue
			}
			stats.Error = err.Error()
			stats.Finished = e.now()
			return stats, fmt.Errorf("stage %s: %w", stage.name, err)
		}
		log.InfoContext(ctx, "stage finished", "stage", stage.name,
			"examined", s.Examined, "updated", s.Updated, "failed", s.Failed,
			"appended", s.Appended, "skipped", s.Skipped)
	}
	stats.Finished = e.now()
	log.InfoContext(ctx, "cycle finished")
	return stats, nil
}

// ReconcileBookings walks the booking queue and advances items whose
// citizen has exactly one completed age-22 assessment booking. Multiple
// matching bookings are a data anomaly: the item is failed for manual
// handling, never resolved by guessing.
func (e Engine) ReconcileBookings(ctx context.Context) (StageStats, error) {
	var stats StageStats
	q, err := e.Queues.ResolveQueue(ctx, e.Config.Queues.Bookings)
	if err != nil {
		return stats, err
	}
	items, err := e.Queues.ListItems(ctx, q)
	if err != nil {
		return stats, err
	}
	for _, item := range items {
		if !e.reconcilable(item.Status) {
			continue
		}
		stats.Examined++
		bookings, err := e.Bookings.BookingsForCitizen(ctx, item.Reference, e.Config.Appointments.BookingType)
		if err != nil {
			return stats, err
		}
		switch Classify(bookings) {
		case BookingCompleted:
			if err := e.Queues.UpdateItemStatus(ctx, item.ID, domain.ItemNew, statusUpdatedMessage); err != nil {
				return stats, err
			}
			stats.Updated++
		case BookingAmbiguous:
			msg := fmt.Sprintf("%d bookings of type %q found for citizen; manual handling required",
				len(bookings), e.Config.Appointments.BookingType)
			if err := e.Queues.UpdateItemStatus(ctx, item.ID, domain.ItemFailed, msg); err != nil {
				return stats, err
			}
			stats.Failed++
		default:
			// none or still pending: leave the item for the next cycle
		}
	}
	return stats, nil
}

func (e Engine) reconcilable(status domain.ItemStatus) bool {
	if status == domain.ItemPendingUserAction {
		return true
	}
	return e.Config.Worker.ReconcileFailedItems && status == domain.ItemFailed
}

// HarvestForms pulls un-journalized submissions into the journalizing
// queue, one item per citizen, then flips waiting items whose citizen has
// submitted a form naming a new clinic.
func (e Engine) HarvestForms(ctx context.Context) (StageStats, error) {
	var stats StageStats
	q, err := e.Queues.ResolveQueue(ctx, e.Config.Queues.Forms)
	if err != nil {
		return stats, err
	}
	refs, err := e.Queues.References(ctx, q)
	if err != nil {
		return stats, err
	}
	records, err := e.Forms.Unjournalized(ctx, e.Config.Forms.Types)
	if err != nil {
		return stats, err
	}
	for _, rec := range records {
		stats.Examined++
		if rec.CPR == "" {
			e.Log.WarnContext(ctx, "submission without citizen key, skipping", "form_id", rec.FormID)
			stats.Skipped++
			continue
		}
		if refs[rec.CPR] {
			stats.Skipped++
			continue
		}
		if err := e.Queues.AddItem(ctx, q, rec.CPR, rec.Payload()); err != nil {
			return stats, err
		}
		refs[rec.CPR] = true
		stats.Appended++
	}

	items, err := e.Queues.ListItems(ctx, q)
	if err != nil {
		return stats, err
	}
	for _, item := range items {
		if item.Status != domain.ItemPendingUserAction {
			continue
		}
		citizenForms, err := e.Forms.CitizenForms(ctx, item.Reference, e.Config.Forms.Types)
		if err != nil {
			return stats, err
		}
		if !clinicChosen(citizenForms, item.Reference) {
			continue
		}
		if err := e.Queues.UpdateItemStatus(ctx, item.ID, domain.ItemNew, statusUpdatedMessage); err != nil {
			return stats, err
		}
		stats.Updated++
	}
	return stats, nil
}

// clinicChosen reports whether any of the citizen's submissions names a
// clinic by ydernummer.
func clinicChosen(records []domain.FormRecord, cpr string) bool {
	for _, rec := range records {
		if rec.CPR != cpr {
			continue
		}
		if rec.KlinikYdernummer != nil && *rec.KlinikYdernummer != "" {
			return true
		}
	}
	return false
}

// EnqueueReady finds running process runs whose review and consent steps
// succeeded while journalization is still pending, and enqueues them on the
// final queue keyed by citizen.
func (e Engine) EnqueueReady(ctx context.Context) (StageStats, error) {
	var stats StageStats
	proc, err := e.Dashboard.ProcessByName(ctx, e.Config.Process.Name)
	if err != nil {
		return stats, err
	}
	steps, err := e.resolveSteps(proc)
	if err != nil {
		return stats, err
	}
	runs, err := e.Dashboard.RunningRuns(ctx, proc.ID)
	if err != nil {
		return stats, err
	}
	ready := FilterReady(runs, steps)
	e.Log.InfoContext(ctx, "readiness evaluated", "process", proc.Name, "runs", len(runs), "ready", len(ready))

	q, err := e.Queues.ResolveQueue(ctx, e.Config.Queues.Final)
	if err != nil {
		return stats, err
	}
	refs, err := e.Queues.References(ctx, q)
	if err != nil {
		return stats, err
	}
	for _, run := range ready {
		stats.Examined++
		cpr := run.CPR()
		if cpr == "" {
			e.Log.WarnContext(ctx, "ready run without citizen key, skipping", "run_id", run.ID)
			stats.Skipped++
			continue
		}
		if refs[cpr] {
			stats.Skipped++
			continue
		}
		if err := e.Queues.AddItem(ctx, q, cpr, run.Meta); err != nil {
			return stats, err
		}
		refs[cpr] = true
		stats.Appended++
	}
	return stats, nil
}

func (e Engine) resolveSteps(proc domain.Process) (StepIDs, error) {
	ids, missing := ResolveStepIDs(proc,
		e.Config.Process.ReviewStep,
		e.Config.Process.ConsentStep,
		e.Config.Process.JournalStep)
	if len(missing) > 0 {
		return StepIDs{}, &ConfigError{
			Msg: fmt.Sprintf("process %q is missing required steps %v", proc.Name, missing),
		}
	}
	return ids, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
