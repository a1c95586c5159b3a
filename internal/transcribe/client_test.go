package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fieldrec/pitchside/internal/domain"
)

// writeClip drops a small fake recording on disk for upload tests.
func writeClip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.m4a")
	if err := os.WriteFile(path, []byte("not-really-audio"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return path
}

func TestClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		f.Close()
		if header.Filename != "recording.m4a" {
			t.Errorf("filename = %q", header.Filename)
		}

		json.NewEncoder(w).Encode(domain.Transcription{
			Transcript: "Goal, number seven, minute twenty three",
			Confidence: 0.92,
			Duration:   4.1,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	transcript, err := client.Transcribe(context.Background(), writeClip(t))
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if transcript != "Goal, number seven, minute twenty three" {
		t.Errorf("Transcribe() = %q", transcript)
	}
}

func TestClient_TranscribeEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(domain.Transcription{Transcript: "  "})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Transcribe(context.Background(), writeClip(t))

	var te *domain.TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *domain.TranscriptionError", err)
	}
	if te.Kind != domain.TranscriptionEmpty {
		t.Errorf("Kind = %s, want empty", te.Kind)
	}
}

func TestClient_TranscribeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported format", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Transcribe(context.Background(), writeClip(t))

	var te *domain.TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *domain.TranscriptionError", err)
	}
	if te.Kind != domain.TranscriptionRejected || te.Status != http.StatusUnprocessableEntity {
		t.Errorf("error = %+v", te)
	}
}

func TestClient_TranscribeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := client.Transcribe(context.Background(), writeClip(t))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("call took %v, timeout did not abort the request", elapsed)
	}

	var te *domain.TranscriptionError
	if !errors.As(err, &te) {
		t.Fatalf("error type = %T, want *domain.TranscriptionError", err)
	}
	if te.Kind != domain.TranscriptionTimeout {
		t.Errorf("Kind = %s, want timeout", te.Kind)
	}
	if !domain.IsRetryable(err) {
		t.Error("timeout not reported as retryable")
	}
}

func TestClient_TranscribeMissingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached server for a missing file")
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if _, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "absent.m4a")); err == nil {
		t.Fatal("Transcribe() error = nil for missing file")
	}
	if _, err := client.Transcribe(context.Background(), "  "); err == nil {
		t.Fatal("Transcribe() error = nil for blank reference")
	}
}

func TestClient_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe/health" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if !client.Healthy(context.Background()) {
		t.Error("Healthy() = false for healthy service")
	}

	srv.Close()
	if client.Healthy(context.Background()) {
		t.Error("Healthy() = true for unreachable service")
	}
}

func TestClient_SupportedFormats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string][]string{"formats": {"wav", "ogg"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if got := client.SupportedFormats(context.Background()); !reflect.DeepEqual(got, []string{"wav", "ogg"}) {
		t.Errorf("SupportedFormats() = %v", got)
	}

	srv.Close()
	if got := client.SupportedFormats(context.Background()); !reflect.DeepEqual(got, defaultFormats) {
		t.Errorf("SupportedFormats() fallback = %v, want %v", got, defaultFormats)
	}
}
