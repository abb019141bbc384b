package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
	"github.com/bigkaa/dicomviewer/internal/orthanc"
	"github.com/bigkaa/dicomviewer/internal/repository"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Mock StudyRepository ---

// mockStudyRepo — мок StudyRepository для unit-тестов.
type mockStudyRepo struct {
	upsertManyFn func(ctx context.Context, records []*model.StudyRecord, opts repository.UpsertOptions) (*repository.UpsertStats, error)
	queryFn      func(ctx context.Context, q repository.StudyQuery) ([]*model.StudyRecord, error)
	countFn      func(ctx context.Context, term string) (int, error)
	getByIDFn    func(ctx context.Context, id string) (*model.StudyRecord, error)

	mu          sync.Mutex
	upsertCalls int
}

func (m *mockStudyRepo) UpsertMany(ctx context.Context, records []*model.StudyRecord, opts repository.UpsertOptions) (*repository.UpsertStats, error) {
	m.mu.Lock()
	m.upsertCalls++
	m.mu.Unlock()
	if m.upsertManyFn != nil {
		return m.upsertManyFn(ctx, records, opts)
	}
	return &repository.UpsertStats{Added: len(records)}, nil
}

func (m *mockStudyRepo) Query(ctx context.Context, q repository.StudyQuery) ([]*model.StudyRecord, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, q)
	}
	return nil, nil
}

func (m *mockStudyRepo) Count(ctx context.Context, term string) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, term)
	}
	return 0, nil
}

func (m *mockStudyRepo) GetByID(ctx context.Context, id string) (*model.StudyRecord, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockStudyRepo) All(_ context.Context, _ func(*model.StudyRecord) error) error {
	return nil
}

func (m *mockStudyRepo) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertCalls
}

// --- Mock SyncRunRepository ---

// mockSyncRunRepo — хранит созданные запуски в памяти.
type mockSyncRunRepo struct {
	mu   sync.Mutex
	runs []*model.SyncRun
}

func (m *mockSyncRunRepo) Create(_ context.Context, run *model.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockSyncRunRepo) Latest(_ context.Context) (*model.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, repository.ErrNotFound
	}
	return m.runs[len(m.runs)-1], nil
}

func (m *mockSyncRunRepo) all() []*model.SyncRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.SyncRun(nil), m.runs...)
}

// --- Mock StudySource ---

// mockSource — мок архива для синхронизации.
type mockSource struct {
	listFn func(ctx context.Context) ([]model.RemoteStudy, error)

	mu    sync.Mutex
	calls int
}

func (m *mockSource) ListStudiesExpanded(ctx context.Context) ([]model.RemoteStudy, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock ArchiveClient ---

// mockArchiveClient — мок клиента Orthanc для шлюза.
type mockArchiveClient struct {
	getStudyFn func(ctx context.Context, id string) (json.RawMessage, error)
	openFn     func(ctx context.Context, path string, query url.Values) (*http.Response, error)
	pingFn     func(ctx context.Context) error

	mu         sync.Mutex
	studyCalls int
}

func (m *mockArchiveClient) GetStudy(ctx context.Context, id string) (json.RawMessage, error) {
	m.mu.Lock()
	m.studyCalls++
	m.mu.Unlock()
	if m.getStudyFn != nil {
		return m.getStudyFn(ctx, id)
	}
	return json.RawMessage(`{}`), nil
}

func (m *mockArchiveClient) GetSeries(_ context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{"ID":"` + id + `"}`), nil
}

func (m *mockArchiveClient) GetInstance(_ context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{"ID":"` + id + `"}`), nil
}

func (m *mockArchiveClient) Statistics(_ context.Context) (*orthanc.Statistics, error) {
	return &orthanc.Statistics{CountStudies: 1}, nil
}

func (m *mockArchiveClient) Open(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	if m.openFn != nil {
		return m.openFn(ctx, path, query)
	}
	return nil, &orthanc.StatusError{StatusCode: http.StatusNotFound}
}

func (m *mockArchiveClient) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

// strPtr возвращает указатель на строку.
func strPtr(s string) *string {
	return &s
}
