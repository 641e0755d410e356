// Package forms harvests submissions from the journalizing form log.
package forms

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"udskrivning22/internal/domain"
)

// ErrPurged marks a submission whose payload carries the purge marker;
// purged submissions are excluded from harvesting regardless of content.
var ErrPurged = errors.New("submission purged")

type Store struct {
	DB  *sql.DB
	Log *slog.Logger
}

// Unjournalized returns the normalized, un-journalized submissions of the
// active form types. Rows with unparsable or purged payloads are skipped; a
// query error aborts the whole harvest and propagates.
func (s Store) Unjournalized(ctx context.Context, formTypes []string) ([]domain.FormRecord, error) {
	query := fmt.Sprintf(`
		SELECT j.form_id, j.form_type, j.form_data
		FROM view_Journalizing j
		JOIN Metadata m ON m.os2formWebformId = j.form_type
		WHERE j.status = 'New'
		  AND m.isActive = 1
		  AND j.form_type IN (%s)
		ORDER BY j.form_submitted_date DESC`, placeholders(len(formTypes)))
	rows, err := s.DB.QueryContext(ctx, query, anySlice(formTypes)...)
	if err != nil {
		return nil, fmt.Errorf("query journalizing view: %w", err)
	}
	defer rows.Close()
	return s.collect(ctx, rows)
}

// CitizenForms returns the citizen's submissions of the known form types,
// newest first, purge-filtered.
func (s Store) CitizenForms(ctx context.Context, cpr string, formTypes []string) ([]domain.FormRecord, error) {
	query := fmt.Sprintf(`
		SELECT j.form_id, j.form_type, j.form_data
		FROM view_Journalizing j
		WHERE j.form_type IN (%s)
		  AND j.form_data LIKE ?
		ORDER BY j.form_submitted_date DESC`, placeholders(len(formTypes)))
	args := append(anySlice(formTypes), "%"+cpr+"%")
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query citizen forms for %s: %w", cpr, err)
	}
	defer rows.Close()
	return s.collect(ctx, rows)
}

func (s Store) collect(ctx context.Context, rows *sql.Rows) ([]domain.FormRecord, error) {
	var out []domain.FormRecord
	for rows.Next() {
		var formID, formType, raw string
		if err := rows.Scan(&formID, &formType, &raw); err != nil {
			return nil, err
		}
		rec, err := Normalize(formID, formType, raw)
		if err != nil {
			if errors.Is(err, ErrPurged) {
				continue
			}
			s.log().WarnContext(ctx, "skipping malformed submission", "form_id", formID, "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// formPayload is the OS2Forms submission shape, reduced to the fields the
// worker reads.
type formPayload struct {
	Data struct {
		CPR              string `json:"borger_cpr_nummer_manuelt"`
		ClinicNotInList  string `json:"tandlaege_fremkommer_ikke_i_listen"`
		ClinicPicker     string `json:"vaelg_tandlaege_api"`
		ManualName       string `json:"tandlaege_navn_manuelt"`
		ManualAddress    string `json:"tandlaege_adresse__dawa"`
		ManualYdernummer string `json:"tandlaege_ydernummer_manuelt"`
		ManualPhone      string `json:"tandlaege_telefonnummer_manuelt"`
		Samtykke         string `json:"samtykke_valg"`
		Attachments      []struct {
			URL string `json:"url"`
		} `json:"attachments"`
	} `json:"data"`
}

// Normalize parses a raw form_data payload into a FormRecord. It returns
// ErrPurged for purged submissions and a descriptive error for payloads
// that do not parse or carry a malformed clinic picker value.
func Normalize(formID, formType, raw string) (domain.FormRecord, error) {
	var marker map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &marker); err != nil {
		return domain.FormRecord{}, fmt.Errorf("parse form_data: %w", err)
	}
	if _, purged := marker["purged"]; purged {
		return domain.FormRecord{}, ErrPurged
	}
	var p formPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.FormRecord{}, fmt.Errorf("parse form_data: %w", err)
	}
	rec := domain.FormRecord{
		CPR:           p.Data.CPR,
		KlinikTelefon: p.Data.ManualPhone,
		Samtykke:      p.Data.Samtykke == "ja",
		FormID:        formID,
		FormType:      formType,
		FormData:      raw,
	}
	if p.Data.ClinicPicker != "" {
		name, address, ydernummer, err := SplitClinicPicker(p.Data.ClinicPicker)
		if err != nil {
			return domain.FormRecord{}, err
		}
		rec.KlinikNavn = name
		rec.KlinikAdresse = address
		rec.KlinikYdernummer = &ydernummer
	} else {
		rec.KlinikNavn = p.Data.ManualName
		rec.KlinikAdresse = p.Data.ManualAddress
		if p.Data.ManualYdernummer != "" {
			y := p.Data.ManualYdernummer
			rec.KlinikYdernummer = &y
		}
	}
	if len(p.Data.Attachments) > 0 && p.Data.Attachments[0].URL != "" {
		u := p.Data.Attachments[0].URL
		rec.URL = &u
	}
	return rec, nil
}

// SplitClinicPicker splits the structured clinic-picker value into its
// three parts: name, address, ydernummer.
func SplitClinicPicker(value string) (string, string, string, error) {
	parts := strings.Split(value, "||")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("clinic picker value %q: want 3 parts, got %d", value, len(parts))
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func (s Store) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
