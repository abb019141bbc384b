// Пакет model — доменные модели DICOM Viewer.
// StudyRecord — строка локального кэша исследований (таблица studies).
// RemoteStudy — элемент ответа Orthanc GET /studies?expand.
package model

import (
	"encoding/json"
	"time"
)

// Метки по умолчанию для отсутствующих полей исследования.
// Отображаемые колонки кэша никогда не содержат NULL.
const (
	DefaultPatientName = "Sin Nombre"
	DefaultUnknown     = "Desconocido"
	DefaultDescription = "DX"
)

// StudyRecord — метаданные одного исследования в локальном кэше.
// Ключ — идентификатор исследования, присвоенный архивом (неизменяемый).
type StudyRecord struct {
	// ID — идентификатор исследования в Orthanc (PRIMARY KEY)
	ID string `json:"id"`
	// PatientName — имя пациента (PatientMainDicomTags.PatientName)
	PatientName string `json:"patient_name"`
	// PatientID — идентификатор пациента (PatientMainDicomTags.PatientID)
	PatientID string `json:"patient_id"`
	// PatientSex — пол пациента (PatientMainDicomTags.PatientSex)
	PatientSex string `json:"patient_sex"`
	// InstitutionName — учреждение (MainDicomTags.InstitutionName)
	InstitutionName string `json:"institution_name"`
	// StudyDate — дата исследования в формате YYYYMMDD или пустая строка
	StudyDate string `json:"study_date"`
	// Description — описание исследования (MainDicomTags.StudyDescription)
	Description string `json:"description"`
	// RawRecord — исходная запись Orthanc без изменений (колонка json_completo)
	RawRecord json.RawMessage `json:"json_completo,omitempty"`
	// SyncedAt — время последней записи строки синхронизацией
	SyncedAt time.Time `json:"synced_at,omitzero"`
}

// PatientTags — PatientMainDicomTags из ответа Orthanc.
// Указатели различают отсутствующее поле и пустую строку.
type PatientTags struct {
	PatientName      *string `json:"PatientName,omitempty"`
	PatientID        *string `json:"PatientID,omitempty"`
	PatientSex       *string `json:"PatientSex,omitempty"`
	PatientBirthDate *string `json:"PatientBirthDate,omitempty"`
}

// StudyTags — MainDicomTags исследования из ответа Orthanc.
type StudyTags struct {
	StudyDate        *string `json:"StudyDate,omitempty"`
	StudyDescription *string `json:"StudyDescription,omitempty"`
	InstitutionName  *string `json:"InstitutionName,omitempty"`
	AccessionNumber  *string `json:"AccessionNumber,omitempty"`
	StudyInstanceUID *string `json:"StudyInstanceUID,omitempty"`
}

// RemoteStudy — исследование в ответе Orthanc GET /studies?expand.
type RemoteStudy struct {
	ID                   string      `json:"ID"`
	ParentPatient        string      `json:"ParentPatient,omitempty"`
	PatientMainDicomTags PatientTags `json:"PatientMainDicomTags"`
	MainDicomTags        StudyTags   `json:"MainDicomTags"`
	Series               []string    `json:"Series,omitempty"`
	LastUpdate           string      `json:"LastUpdate,omitempty"`

	// Raw — исходный JSON элемента, сохраняется в json_completo без изменений.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON декодирует исследование и сохраняет исходные байты в Raw.
func (s *RemoteStudy) UnmarshalJSON(data []byte) error {
	type alias RemoteStudy
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = RemoteStudy(a)
	s.Raw = append(json.RawMessage(nil), data...)
	return nil
}
