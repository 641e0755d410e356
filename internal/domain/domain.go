package domain

// Workqueue is a resolved handle to a named ATS queue.
type Workqueue struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// WorkItem is one unit of work inside a queue. Data carries whatever payload
// the producer attached; only Reference and Status drive reconciliation.
type WorkItem struct {
	ID        int64          `json:"id"`
	Reference string         `json:"reference"`
	Status    ItemStatus     `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Message   string         `json:"message,omitempty"`
	CreatedAt string         `json:"created_at,omitempty" format:"date-time"`
}

// Process is a named business process definition from the dashboard API.
type Process struct {
	ID    int64         `json:"id"`
	Name  string        `json:"name"`
	Steps []ProcessStep `json:"steps"`
}

type ProcessStep struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ProcessRun is one instance of a process for one citizen. Meta carries the
// citizen key under "cpr".
type ProcessRun struct {
	ID    int64          `json:"id"`
	Meta  map[string]any `json:"meta"`
	Steps []RunStep      `json:"steps"`
}

type RunStep struct {
	StepID int64      `json:"step_id"`
	Status StepStatus `json:"status"`
}

// CPR returns the citizen key from the run's meta, or "" if absent.
func (r ProcessRun) CPR() string {
	if s, ok := r.Meta["cpr"].(string); ok {
		return s
	}
	return ""
}

// Booking is an appointment record from the dental system.
type Booking struct {
	ID          int64         `json:"id"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	Description string        `json:"description"`
	Status      BookingStatus `json:"status"`
}

// FormRecord is a normalized form submission harvested from the
// journalizing view. KlinikYdernummer is nil when the citizen entered no
// clinic id, never the empty string.
type FormRecord struct {
	CPR              string  `json:"cpr"`
	KlinikNavn       string  `json:"klinik_navn"`
	KlinikAdresse    string  `json:"klinik_adresse"`
	KlinikYdernummer *string `json:"klinik_ydernummer"`
	KlinikTelefon    string  `json:"klinik_telefonnummer"`
	Samtykke         bool    `json:"samtykke_valg"`
	FormID           string  `json:"form_id"`
	FormType         string  `json:"form_type"`
	FormData         string  `json:"form_data"`
	URL              *string `json:"url"`
}

// Payload returns the work-item data shape for the journalizing queue.
func (f FormRecord) Payload() map[string]any {
	return map[string]any{
		"cpr":                  f.CPR,
		"klinik_navn":          f.KlinikNavn,
		"klinik_adresse":       f.KlinikAdresse,
		"klinik_ydernummer":    f.KlinikYdernummer,
		"klinik_telefonnummer": f.KlinikTelefon,
		"samtykke_valg":        f.Samtykke,
		"form_id":              f.FormID,
		"form_type":            f.FormType,
		"form_data":            f.FormData,
		"url":                  f.URL,
	}
}
