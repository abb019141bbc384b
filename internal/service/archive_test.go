package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/dicomviewer/internal/orthanc"
)

func TestCacheService_GetSet(t *testing.T) {
	cache := NewCacheService(2, time.Minute)

	if _, ok := cache.Get("/studies/a"); ok {
		t.Error("пустой кэш вернул значение")
	}

	cache.Set("/studies/a", json.RawMessage(`{"ID":"a"}`))
	got, ok := cache.Get("/studies/a")
	if !ok || string(got) != `{"ID":"a"}` {
		t.Errorf("Get = %s, %v", got, ok)
	}

	// Вытеснение при превышении размера
	cache.Set("/studies/b", json.RawMessage(`{}`))
	cache.Set("/studies/c", json.RawMessage(`{}`))
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, ожидалось 2", cache.Len())
	}

	cache.Purge()
	if cache.Len() != 0 {
		t.Errorf("Len() после Purge = %d", cache.Len())
	}
}

func TestResourceKind(t *testing.T) {
	tests := map[string]string{
		"/studies/a":   "studies",
		"/series/b":    "series",
		"/instances/c": "instances",
		"/patients/p":  "other",
		"k":            "other",
	}
	for key, want := range tests {
		if got := resourceKind(key); got != want {
			t.Errorf("resourceKind(%q) = %q, ожидалось %q", key, got, want)
		}
	}
}

func TestCacheService_TTL(t *testing.T) {
	cache := NewCacheService(10, 50*time.Millisecond)
	cache.Set("k", json.RawMessage(`1`))

	time.Sleep(150 * time.Millisecond)

	if _, ok := cache.Get("k"); ok {
		t.Error("запись должна истечь по TTL")
	}
}

func TestArchiveService_StudyCached(t *testing.T) {
	client := &mockArchiveClient{
		getStudyFn: func(_ context.Context, id string) (json.RawMessage, error) {
			return json.RawMessage(`{"ID":"` + id + `"}`), nil
		},
	}
	svc := NewArchiveService(client, NewCacheService(10, time.Minute), testLogger())

	for range 3 {
		raw, err := svc.Study(context.Background(), "st-1")
		if err != nil {
			t.Fatal(err)
		}
		if string(raw) != `{"ID":"st-1"}` {
			t.Errorf("Study = %s", raw)
		}
	}

	if client.studyCalls != 1 {
		t.Errorf("обращений к архиву: %d, ожидалось 1", client.studyCalls)
	}
}

func TestArchiveService_ErrorNotCached(t *testing.T) {
	client := &mockArchiveClient{
		getStudyFn: func(context.Context, string) (json.RawMessage, error) {
			return nil, &orthanc.StatusError{StatusCode: http.StatusNotFound}
		},
	}
	svc := NewArchiveService(client, NewCacheService(10, time.Minute), testLogger())

	for range 2 {
		_, err := svc.Study(context.Background(), "missing")
		if !errors.Is(err, orthanc.ErrNotFound) {
			t.Errorf("err = %v, ожидался orthanc.ErrNotFound", err)
		}
	}
	if client.studyCalls != 2 {
		t.Errorf("обращений к архиву: %d, ожидалось 2 (ошибки не кэшируются)", client.studyCalls)
	}
}

func TestArchiveService_SeriesAndInstanceKeys(t *testing.T) {
	svc := NewArchiveService(&mockArchiveClient{}, NewCacheService(10, time.Minute), testLogger())

	series, err := svc.Series(context.Background(), "x")
	if err != nil || string(series) != `{"ID":"x"}` {
		t.Errorf("Series = %s, %v", series, err)
	}
	// Одинаковый ID у серии и экземпляра не пересекается в кэше
	instance, err := svc.Instance(context.Background(), "x")
	if err != nil || string(instance) != `{"ID":"x"}` {
		t.Errorf("Instance = %s, %v", instance, err)
	}
	if svc.cache.Len() != 2 {
		t.Errorf("Len() = %d, ожидалось 2", svc.cache.Len())
	}
}

func TestArchiveService_Stream(t *testing.T) {
	client := &mockArchiveClient{
		openFn: func(_ context.Context, path string, query url.Values) (*http.Response, error) {
			if path != "/instances/in-1/preview" || query.Get("viewport") != "256" {
				t.Errorf("Open(%s, %v)", path, query)
			}
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Content-Type": {"image/jpeg"}},
				Body:       io.NopCloser(strings.NewReader("jpeg")),
			}, nil
		},
	}
	svc := NewArchiveService(client, NewCacheService(10, time.Minute), testLogger())

	resp, err := svc.Stream(context.Background(), "preview", "/instances/in-1/preview", url.Values{"viewport": {"256"}})
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "jpeg" {
		t.Errorf("body = %q", body)
	}
}

func TestArchiveService_CheckReady(t *testing.T) {
	client := &mockArchiveClient{}
	svc := NewArchiveService(client, NewCacheService(10, time.Minute), testLogger())

	if status, _ := svc.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %q, ожидался ok", status)
	}

	client.pingFn = func(context.Context) error { return errors.New("connection refused") }
	status, msg := svc.CheckReady()
	if status != "fail" {
		t.Errorf("CheckReady() = %q, ожидался fail", status)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("message = %q", msg)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&orthanc.StatusError{StatusCode: 404}, "404"},
		{errors.New("dial tcp"), "error"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.err); got != tt.want {
			t.Errorf("statusLabel(%v) = %q, ожидалось %q", tt.err, got, tt.want)
		}
	}
}
