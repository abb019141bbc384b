package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/dicomviewer/internal/auth"
	"github.com/bigkaa/dicomviewer/internal/domain/model"
	"github.com/bigkaa/dicomviewer/internal/orthanc"
	"github.com/bigkaa/dicomviewer/internal/service"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Mock StudySearcher ---

type mockSearcher struct {
	searchFn   func(ctx context.Context, query string, page int) (*service.SearchResult, error)
	getStudyFn func(ctx context.Context, id string) (*model.StudyRecord, error)
	countFn    func(ctx context.Context) (int, error)
}

func (m *mockSearcher) Search(ctx context.Context, query string, page int) (*service.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, query, page)
	}
	return &service.SearchResult{CurrentPage: page}, nil
}

func (m *mockSearcher) GetStudy(ctx context.Context, id string) (*model.StudyRecord, error) {
	if m.getStudyFn != nil {
		return m.getStudyFn(ctx, id)
	}
	return nil, service.ErrNotFound
}

func (m *mockSearcher) CountAll(ctx context.Context) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx)
	}
	return 0, nil
}

// --- Mock SyncRunner ---

type mockSyncRunner struct {
	syncFn    func(ctx context.Context) (*model.SyncResult, error)
	lastRunFn func(ctx context.Context) (*model.SyncRun, error)
	running   bool
}

func (m *mockSyncRunner) Sync(ctx context.Context) (*model.SyncResult, error) {
	if m.syncFn != nil {
		return m.syncFn(ctx)
	}
	return &model.SyncResult{}, nil
}

func (m *mockSyncRunner) IsRunning() bool {
	return m.running
}

func (m *mockSyncRunner) LastRun(ctx context.Context) (*model.SyncRun, error) {
	if m.lastRunFn != nil {
		return m.lastRunFn(ctx)
	}
	return nil, service.ErrNotFound
}

// --- Mock ArchiveGateway ---

type mockArchive struct {
	metadataFn   func(kind, id string) (json.RawMessage, error)
	statisticsFn func(ctx context.Context) (*orthanc.Statistics, error)
	streamFn     func(ctx context.Context, endpoint, path string, query url.Values) (*http.Response, error)
}

func (m *mockArchive) metadata(kind, id string) (json.RawMessage, error) {
	if m.metadataFn != nil {
		return m.metadataFn(kind, id)
	}
	return json.RawMessage(`{"ID":"` + id + `"}`), nil
}

func (m *mockArchive) Study(_ context.Context, id string) (json.RawMessage, error) {
	return m.metadata("studies", id)
}

func (m *mockArchive) Series(_ context.Context, id string) (json.RawMessage, error) {
	return m.metadata("series", id)
}

func (m *mockArchive) Instance(_ context.Context, id string) (json.RawMessage, error) {
	return m.metadata("instances", id)
}

func (m *mockArchive) Statistics(ctx context.Context) (*orthanc.Statistics, error) {
	if m.statisticsFn != nil {
		return m.statisticsFn(ctx)
	}
	return &orthanc.Statistics{CountStudies: 3}, nil
}

func (m *mockArchive) Stream(ctx context.Context, endpoint, path string, query url.Values) (*http.Response, error) {
	if m.streamFn != nil {
		return m.streamFn(ctx, endpoint, path, query)
	}
	return upstreamResponse("", "data"), nil
}

// upstreamResponse — успешный ответ архива с телом body.
func upstreamResponse(contentType, body string) *http.Response {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// --- Mock ReadinessChecker ---

type mockChecker struct {
	status, message string
}

func (m mockChecker) CheckReady() (string, string) {
	return m.status, m.message
}

// --- Сборка обработчика ---

// testDeps — зависимости обработчика для теста.
type testDeps struct {
	search  *mockSearcher
	sync    *mockSyncRunner
	archive *mockArchive
	storage ReadinessChecker
	orthanc ReadinessChecker
}

func newTestDeps() *testDeps {
	return &testDeps{
		search:  &mockSearcher{},
		sync:    &mockSyncRunner{},
		archive: &mockArchive{},
		storage: mockChecker{status: "ok"},
		orthanc: mockChecker{status: "ok"},
	}
}

// router собирает chi.Router с зарегистрированными маршрутами.
func (d *testDeps) router() http.Handler {
	h := NewAPIHandler(
		NewHealthHandler(d.storage, d.orthanc),
		d.search,
		d.sync,
		d.archive,
		auth.NewTokenManager(strings.Repeat("t", 32), time.Hour, "dicom-viewer"),
		auth.Credentials{Username: "admin", Password: "secret"},
		false,
		testLogger(),
	)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}
