// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — исследование не найдено в локальном кэше.
	ErrNotFound = errors.New("исследование не найдено")
	// ErrSyncInProgress — синхронизация уже выполняется.
	ErrSyncInProgress = errors.New("синхронизация уже выполняется")
	// ErrArchiveUnavailable — архив Orthanc недоступен или вернул ошибку.
	ErrArchiveUnavailable = errors.New("архив Orthanc недоступен")
)
