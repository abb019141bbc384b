package model

import "time"

// Статусы запуска синхронизации.
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// SyncResult — итог одной синхронизации кэша исследований с Orthanc.
type SyncResult struct {
	// Fetched — получено исследований из архива
	Fetched int `json:"fetched"`
	// Added — новых строк
	Added int `json:"added"`
	// Updated — перезаписанных строк
	Updated int `json:"updated"`
	// Deleted — удалённых строк (только при включённом prune)
	Deleted int `json:"deleted"`
	// Skipped — записей без ID, пропущенных при маппинге
	Skipped int `json:"skipped"`
	// StartedAt — время начала
	StartedAt time.Time `json:"startedAt"`
	// DurationMs — длительность в миллисекундах
	DurationMs int64 `json:"durationMs"`
}

// SyncRun — запись истории синхронизаций (таблица sync_runs).
type SyncRun struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Status       string    `json:"status"`
	Fetched      int       `json:"fetched"`
	Added        int       `json:"added"`
	Updated      int       `json:"updated"`
	Deleted      int       `json:"deleted"`
	Skipped      int       `json:"skipped"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
}
