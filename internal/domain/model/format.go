// format.go — форматирование исследования для отображения в списке.
package model

import (
	"strconv"
	"strings"
	"unicode"
)

// Подписи для отсутствующих значений в представлении.
const (
	LabelAnonymousPatient = "Paciente Anónimo"
	LabelUnknownDate      = "Fecha Desconocida"
	LabelUnknownPatientID = "ID Desconocido"
	LabelUnknownSex       = "Sexo Desconocido"
	LabelUnknownInstitute = "Institución Desconocida"
	LabelNoDescription    = "Sin descripción"
)

// StudyView — исследование в виде, готовом для отображения.
type StudyView struct {
	ID              string `json:"id"`
	PatientName     string `json:"patientName"`
	PatientID       string `json:"patientId"`
	PatientSex      string `json:"patientSex"`
	InstitutionName string `json:"institutionName"`
	StudyDate       string `json:"studyDate"`
	Modality        string `json:"modality"`
}

// FormatStudy преобразует запись кэша в представление для UI.
func FormatStudy(s *StudyRecord) StudyView {
	return StudyView{
		ID:              s.ID,
		PatientName:     FormatPatientName(s.PatientName),
		PatientID:       orLabel(s.PatientID, LabelUnknownPatientID),
		PatientSex:      orLabel(s.PatientSex, LabelUnknownSex),
		InstitutionName: orLabel(s.InstitutionName, LabelUnknownInstitute),
		StudyDate:       FormatStudyDate(s.StudyDate),
		Modality:        orLabel(s.Description, LabelNoDescription),
	}
}

// FormatPatientName заменяет всё, кроме букв, цифр и пробелов, на пробел.
// DICOM-разделитель "^" становится пробелом: "Doe^John" → "Doe John".
func FormatPatientName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || (r >= '0' && r <= '9') || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, name)

	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if cleaned == "" {
		return LabelAnonymousPatient
	}
	return cleaned
}

// FormatStudyDate преобразует YYYYMMDD в YYYY/MM/DD.
// Некорректная дата (не 8 цифр, месяц вне 1..12, день вне 1..31) → LabelUnknownDate.
func FormatStudyDate(date string) string {
	if len(date) != 8 {
		return LabelUnknownDate
	}
	for _, c := range date {
		if c < '0' || c > '9' {
			return LabelUnknownDate
		}
	}

	month, _ := strconv.Atoi(date[4:6])
	day, _ := strconv.Atoi(date[6:8])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return LabelUnknownDate
	}

	return date[0:4] + "/" + date[4:6] + "/" + date[6:8]
}

func orLabel(value, label string) string {
	if strings.TrimSpace(value) == "" {
		return label
	}
	return value
}
