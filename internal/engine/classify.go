package engine

import "udskrivning22/internal/domain"

// BookingOutcome classifies a citizen's age-22 assessment bookings.
type BookingOutcome int

const (
	// BookingNone: no matching booking yet, leave the item alone.
	BookingNone BookingOutcome = iota
	// BookingPending: one booking exists but the appointment has not been
	// carried out.
	BookingPending
	// BookingCompleted: exactly one booking with a completed status.
	BookingCompleted
	// BookingAmbiguous: more than one matching booking; which record is
	// authoritative cannot be decided here.
	BookingAmbiguous
)

// Classify applies the booking rule; the bookings are assumed to be
// pre-filtered to the targeted appointment type.
func Classify(bookings []domain.Booking) BookingOutcome {
	switch {
	case len(bookings) == 0:
		return BookingNone
	case len(bookings) > 1:
		return BookingAmbiguous
	case bookings[0].Status.Completed():
		return BookingCompleted
	default:
		return BookingPending
	}
}

// StepIDs are the resolved ids of the three steps the readiness predicate
// inspects.
type StepIDs struct {
	Review  int64
	Consent int64
	Journal int64
}

// ResolveStepIDs maps the three required step names to ids, reporting any
// names absent from the definition.
func ResolveStepIDs(proc domain.Process, review, consent, journal string) (StepIDs, []string) {
	var ids StepIDs
	for _, step := range proc.Steps {
		switch step.Name {
		case review:
			ids.Review = step.ID
		case consent:
			ids.Consent = step.ID
		case journal:
			ids.Journal = step.ID
		}
		if ids.Review != 0 && ids.Consent != 0 && ids.Journal != 0 {
			break
		}
	}
	var missing []string
	if ids.Review == 0 {
		missing = append(missing, review)
	}
	if ids.Consent == 0 {
		missing = append(missing, consent)
	}
	if ids.Journal == 0 {
		missing = append(missing, journal)
	}
	return ids, missing
}

// FilterReady returns the runs satisfying the readiness predicate:
// review succeeded, consent succeeded, journalization still pending.
// Evaluation short-circuits per run once all three statuses are known.
func FilterReady(runs []domain.ProcessRun, ids StepIDs) []domain.ProcessRun {
	var ready []domain.ProcessRun
	for _, run := range runs {
		if runIsReady(run, ids) {
			ready = append(ready, run)
		}
	}
	return ready
}

func runIsReady(run domain.ProcessRun, ids StepIDs) bool {
	var review, consent, journal domain.StepStatus
	for _, step := range run.Steps {
		switch step.StepID {
		case ids.Review:
			review = step.Status
		case ids.Consent:
			consent = step.Status
		case ids.Journal:
			journal = step.Status
		}
		if review != "" && consent != "" && journal != "" {
			break
		}
	}
	return review == domain.StepSuccess &&
		consent == domain.StepSuccess &&
		journal == domain.StepPending
}
