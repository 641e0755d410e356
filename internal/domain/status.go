package domain

// ItemStatus is a work-item status as the ATS queue reports it. The queue
// system defines more values than listed here; the worker only acts on the
// subset below and treats the rest as opaque.
type ItemStatus string

const (
	ItemNew               ItemStatus = "new"
	ItemInProgress        ItemStatus = "in progress"
	ItemPendingUserAction ItemStatus = "pending user action"
	ItemFailed            ItemStatus = "failed"
)

// StepStatus is a per-step status on a process run.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
)

// BookingStatus is the dental system's status code for a booking.
type BookingStatus string

// Status codes marking the age-22 assessment appointment as carried out.
const (
	BookingMetPlanned BookingStatus = "632"
	BookingMetArrived BookingStatus = "634"
)

// Completed reports whether the booking status is in the completed set.
func (s BookingStatus) Completed() bool {
	return s == BookingMetPlanned || s == BookingMetArrived
}
