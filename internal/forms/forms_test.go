package forms

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"udskrivning22/internal/db"
)

func TestNormalizePickerClinic(t *testing.T) {
	raw := `{"data":{
		"borger_cpr_nummer_manuelt":"0101040001",
		"vaelg_tandlaege_api":"ClinicA || Main St 1 || 12345",
		"samtykke_valg":"ja",
		"attachments":[{"url":"https://forms.example/att/1"}]
	}}`
	rec, err := Normalize("f1", "udskrivning_22_aar_privat_tandkl", raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.CPR != "0101040001" {
		t.Fatalf("cpr = %q", rec.CPR)
	}
	if rec.KlinikNavn != "ClinicA" || rec.KlinikAdresse != "Main St 1" {
		t.Fatalf("clinic = %q %q", rec.KlinikNavn, rec.KlinikAdresse)
	}
	if rec.KlinikYdernummer == nil || *rec.KlinikYdernummer != "12345" {
		t.Fatalf("ydernummer = %v", rec.KlinikYdernummer)
	}
	if !rec.Samtykke {
		t.Fatal("samtykke should be true for \"ja\"")
	}
	if rec.URL == nil || *rec.URL != "https://forms.example/att/1" {
		t.Fatalf("url = %v", rec.URL)
	}
}

func TestNormalizeManualClinicWithoutYdernummer(t *testing.T) {
	raw := `{"data":{
		"borger_cpr_nummer_manuelt":"0101040001",
		"tandlaege_fremkommer_ikke_i_listen":"1",
		"tandlaege_navn_manuelt":"ClinicB",
		"tandlaege_adresse__dawa":"Side St 2",
		"tandlaege_ydernummer_manuelt":"",
		"samtykke_valg":"nej"
	}}`
	rec, err := Normalize("f2", "udskrivning_22_aar_privat_tandkl", raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.KlinikNavn != "ClinicB" {
		t.Fatalf("name = %q", rec.KlinikNavn)
	}
	if rec.KlinikYdernummer != nil {
		t.Fatalf("ydernummer = %q, want nil for blank manual entry", *rec.KlinikYdernummer)
	}
	if rec.Samtykke {
		t.Fatal("samtykke should be false for \"nej\"")
	}
	if rec.URL != nil {
		t.Fatalf("url = %v, want nil without attachments", rec.URL)
	}
}

func TestNormalizePurged(t *testing.T) {
	_, err := Normalize("f3", "udskrivning_22_aar_privat_tandkl", `{"purged":true}`)
	if !errors.Is(err, ErrPurged) {
		t.Fatalf("err = %v, want ErrPurged", err)
	}
}

func TestNormalizeBadPayloads(t *testing.T) {
	if _, err := Normalize("f4", "t", `not json`); err == nil {
		t.Fatal("expected parse error")
	}
	// picker with wrong arity
	raw := `{"data":{"borger_cpr_nummer_manuelt":"0101040001","vaelg_tandlaege_api":"ClinicA || 12345"}}`
	if _, err := Normalize("f5", "t", raw); err == nil {
		t.Fatal("expected picker arity error")
	}
}

func TestSplitClinicPicker(t *testing.T) {
	name, addr, yder, err := SplitClinicPicker("ClinicA || Main St 1 || 12345")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if name != "ClinicA" || addr != "Main St 1" || yder != "12345" {
		t.Fatalf("parts = %q %q %q", name, addr, yder)
	}
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	conn, err := db.Open("sqlite", filepath.Join(t.TempDir(), "forms.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	stmts := []string{
		`CREATE TABLE view_Journalizing (
			form_id TEXT,
			form_type TEXT,
			form_data TEXT,
			status TEXT,
			form_submitted_date TEXT
		)`,
		`CREATE TABLE Metadata (
			os2formWebformId TEXT,
			isActive INTEGER
		)`,
		`INSERT INTO Metadata VALUES ('udskrivning_22_aar_privat_tandkl', 1)`,
		`INSERT INTO Metadata VALUES ('udskrivning_22_aar_tandpleje_for', 1)`,
		`INSERT INTO Metadata VALUES ('old_form', 0)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	return Store{DB: conn}
}

func insertForm(t *testing.T, s Store, formID, formType, status, submitted, data string) {
	t.Helper()
	_, err := s.DB.Exec(
		`INSERT INTO view_Journalizing VALUES (?, ?, ?, ?, ?)`,
		formID, formType, data, status, submitted)
	if err != nil {
		t.Fatalf("insert form: %v", err)
	}
}

var formTypes = []string{"udskrivning_22_aar_privat_tandkl", "udskrivning_22_aar_tandpleje_for"}

func TestUnjournalized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertForm(t, s, "f1", "udskrivning_22_aar_privat_tandkl", "New", "2026-02-01",
		`{"data":{"borger_cpr_nummer_manuelt":"0101040001","vaelg_tandlaege_api":"A || B || 1"}}`)
	insertForm(t, s, "f2", "udskrivning_22_aar_privat_tandkl", "Journalized", "2026-02-02",
		`{"data":{"borger_cpr_nummer_manuelt":"0101040002"}}`)
	insertForm(t, s, "f3", "old_form", "New", "2026-02-03",
		`{"data":{"borger_cpr_nummer_manuelt":"0101040003"}}`)
	insertForm(t, s, "f4", "udskrivning_22_aar_tandpleje_for", "New", "2026-02-04",
		`{"purged":true}`)
	insertForm(t, s, "f5", "udskrivning_22_aar_tandpleje_for", "New", "2026-02-05",
		`broken json`)

	recs, err := s.Unjournalized(ctx, formTypes)
	if err != nil {
		t.Fatalf("unjournalized: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want only the new active un-purged one", len(recs))
	}
	if recs[0].FormID != "f1" || recs[0].CPR != "0101040001" {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestCitizenForms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertForm(t, s, "f1", "udskrivning_22_aar_privat_tandkl", "New", "2026-02-01",
		`{"data":{"borger_cpr_nummer_manuelt":"0101040001","vaelg_tandlaege_api":"A || B || 1"}}`)
	insertForm(t, s, "f2", "udskrivning_22_aar_privat_tandkl", "Journalized", "2026-02-02",
		`{"data":{"borger_cpr_nummer_manuelt":"0101040001"}}`)
	insertForm(t, s, "f3", "udskrivning_22_aar_privat_tandkl", "New", "2026-02-03",
		`{"data":{"borger_cpr_nummer_manuelt":"0101049999"}}`)

	recs, err := s.CitizenForms(ctx, "0101040001", formTypes)
	if err != nil {
		t.Fatalf("citizen forms: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want the citizen's 2 regardless of status", len(recs))
	}
	// newest first
	if recs[0].FormID != "f2" || recs[1].FormID != "f1" {
		t.Fatalf("order = %q %q", recs[0].FormID, recs[1].FormID)
	}
}
