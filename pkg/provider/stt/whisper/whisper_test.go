package whisper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/taleweave/taleweave/pkg/provider/stt"
)

func TestNew(t *testing.T) {
	t.Run("requires server URL", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("expected error for empty serverURL, got nil")
		}
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		p, err := New("http://localhost:8080/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.serverURL != "http://localhost:8080" {
			t.Errorf("serverURL = %q", p.serverURL)
		}
	})
}

func TestTranscribe(t *testing.T) {
	var gotLanguage, gotModel string
	var gotWAV []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLanguage = r.FormValue("language")
		gotModel = r.FormValue("model")

		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotWAV, _ = io.ReadAll(f)

		json.NewEncoder(w).Encode(map[string]string{"text": " You step into the clearing. "})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithModel("base.en"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pcm := make([]byte, 32000) // 1 s at 16 kHz mono
	text, err := p.Transcribe(context.Background(), pcm, stt.Config{SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "You step into the clearing." {
		t.Errorf("text = %q", text)
	}
	if gotLanguage != "en" {
		t.Errorf("language field = %q, want en", gotLanguage)
	}
	if gotModel != "base.en" {
		t.Errorf("model field = %q, want base.en", gotModel)
	}
	if len(gotWAV) != 44+len(pcm) {
		t.Errorf("uploaded wav length = %d, want %d", len(gotWAV), 44+len(pcm))
	}
	if string(gotWAV[0:4]) != "RIFF" {
		t.Errorf("upload is not a RIFF container")
	}
}

func TestTranscribe_ConfigLanguageOverridesDefault(t *testing.T) {
	var gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(32 << 20)
		gotLanguage = r.FormValue("language")
		json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithLanguage("en"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), make([]byte, 320), stt.Config{SampleRate: 16000, Language: "de"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotLanguage != "de" {
		t.Errorf("language field = %q, want de", gotLanguage)
	}
}

func TestTranscribe_EmptyInput(t *testing.T) {
	p, err := New("http://localhost:1") // never contacted
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text, err := p.Transcribe(context.Background(), nil, stt.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), make([]byte, 320), stt.Config{SampleRate: 16000}); err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}
