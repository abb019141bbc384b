package model

import (
	"encoding/json"
	"testing"
)

func TestFormatStudyDate(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"20250120", "2025/01/20"},
		{"19991231", "1999/12/31"},
		{"20251345", LabelUnknownDate},
		{"20250100", LabelUnknownDate},
		{"20250132", LabelUnknownDate},
		{"invalid-date", LabelUnknownDate},
		{"2025012", LabelUnknownDate},
		{"2025ab01", LabelUnknownDate},
		{"", LabelUnknownDate},
	}

	for _, tt := range tests {
		if got := FormatStudyDate(tt.input); got != tt.want {
			t.Errorf("FormatStudyDate(%q) = %q, ожидается %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatPatientName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Doe^John", "Doe John"},
		{"Doe^John@#$%^&*", "Doe John"},
		{"John Doe", "John Doe"},
		{"Núñez^José", "Núñez José"},
		{"Patient 42", "Patient 42"},
		{"", LabelAnonymousPatient},
		{"^^@@", LabelAnonymousPatient},
	}

	for _, tt := range tests {
		if got := FormatPatientName(tt.input); got != tt.want {
			t.Errorf("FormatPatientName(%q) = %q, ожидается %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatStudy_Defaults(t *testing.T) {
	view := FormatStudy(&StudyRecord{ID: "abc"})

	if view.ID != "abc" {
		t.Errorf("ID = %q, ожидается abc", view.ID)
	}
	if view.PatientName != LabelAnonymousPatient {
		t.Errorf("PatientName = %q, ожидается %q", view.PatientName, LabelAnonymousPatient)
	}
	if view.PatientID != LabelUnknownPatientID {
		t.Errorf("PatientID = %q, ожидается %q", view.PatientID, LabelUnknownPatientID)
	}
	if view.PatientSex != LabelUnknownSex {
		t.Errorf("PatientSex = %q, ожидается %q", view.PatientSex, LabelUnknownSex)
	}
	if view.InstitutionName != LabelUnknownInstitute {
		t.Errorf("InstitutionName = %q, ожидается %q", view.InstitutionName, LabelUnknownInstitute)
	}
	if view.StudyDate != LabelUnknownDate {
		t.Errorf("StudyDate = %q, ожидается %q", view.StudyDate, LabelUnknownDate)
	}
	if view.Modality != LabelNoDescription {
		t.Errorf("Modality = %q, ожидается %q", view.Modality, LabelNoDescription)
	}
}

func TestFormatStudy_Values(t *testing.T) {
	view := FormatStudy(&StudyRecord{
		ID:              "s1",
		PatientName:     "Doe^John",
		PatientID:       "P-001",
		PatientSex:      "M",
		InstitutionName: "Hospital Central",
		StudyDate:       "20250120",
		Description:     "CT CHEST",
	})

	if view.PatientName != "Doe John" {
		t.Errorf("PatientName = %q, ожидается Doe John", view.PatientName)
	}
	if view.StudyDate != "2025/01/20" {
		t.Errorf("StudyDate = %q, ожидается 2025/01/20", view.StudyDate)
	}
	if view.Modality != "CT CHEST" {
		t.Errorf("Modality = %q, ожидается CT CHEST", view.Modality)
	}
}

func TestRemoteStudy_UnmarshalKeepsRaw(t *testing.T) {
	data := []byte(`[{"ID":"st-1","PatientMainDicomTags":{"PatientName":"Doe^John"},"MainDicomTags":{"StudyDate":"20250120"},"Series":["se-1"],"Custom":42}]`)

	var studies []RemoteStudy
	if err := json.Unmarshal(data, &studies); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(studies) != 1 {
		t.Fatalf("len = %d, ожидается 1", len(studies))
	}

	s := studies[0]
	if s.ID != "st-1" {
		t.Errorf("ID = %q, ожидается st-1", s.ID)
	}
	if s.PatientMainDicomTags.PatientName == nil || *s.PatientMainDicomTags.PatientName != "Doe^John" {
		t.Errorf("PatientName = %v, ожидается Doe^John", s.PatientMainDicomTags.PatientName)
	}
	if s.PatientMainDicomTags.PatientSex != nil {
		t.Errorf("PatientSex = %v, ожидается nil", *s.PatientMainDicomTags.PatientSex)
	}

	// Неизвестные поля сохраняются в исходной записи
	var raw map[string]any
	if err := json.Unmarshal(s.Raw, &raw); err != nil {
		t.Fatalf("Raw не является JSON: %v", err)
	}
	if raw["Custom"] != float64(42) {
		t.Errorf("Raw[Custom] = %v, ожидается 42", raw["Custom"])
	}
}
