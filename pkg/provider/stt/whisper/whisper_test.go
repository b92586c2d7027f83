package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voicebridge/pkg/audio"
	"github.com/MrWong99/voicebridge/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// received captures the multipart fields of the last /inference request.
type received struct {
	file   []byte
	fields map[string]string
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. It increments *callCount on every
// matched request and stores the parsed form in *got.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32, got *atomic.Pointer[received]) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		if got != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			rec := &received{fields: map[string]string{}}
			for k, v := range r.MultipartForm.Value {
				rec.fields[k] = v[0]
			}
			if f, _, err := r.FormFile("file"); err == nil {
				rec.file, _ = io.ReadAll(f)
				f.Close()
			}
			got.Store(rec)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testWAV() []byte {
	return audio.EncodeWAV(make([]byte, 3200), audio.Telephony)
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p, err := whisper.New("http://localhost:8080")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "whisper" {
		t.Errorf("Name() = %q, want whisper", p.Name())
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_SendsWAVAndFields(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var got atomic.Pointer[received]
	srv := newMockServer(t, "  hello world \n", &calls, &got)

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("en-IN"), whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wav := testWAV()
	text, err := p.Transcribe(context.Background(), wav)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q, want trimmed transcript", text)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}

	rec := got.Load()
	if rec == nil {
		t.Fatal("server did not record the request")
	}
	if !bytes.Equal(rec.file, wav) {
		t.Error("uploaded file differs from the WAV passed in")
	}
	want := map[string]string{"language": "en", "model": "base.en", "response_format": "json"}
	for k, v := range want {
		if rec.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, rec.fields[k], v)
		}
	}
}

func TestTranscribe_OmitsEmptyModel(t *testing.T) {
	t.Parallel()

	var got atomic.Pointer[received]
	srv := newMockServer(t, "x", nil, &got)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), testWAV()); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if _, ok := got.Load().fields["model"]; ok {
		t.Error("model field sent although no model was configured")
	}
	if got.Load().fields["language"] != "en" {
		t.Errorf("language = %q, want default en", got.Load().fields["language"])
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr string
	}{
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			wantErr: "HTTP 500",
		},
		{
			name:    "invalid JSON",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("not json")) },
			wantErr: "parse JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)
			p, _ := whisper.New(srv.URL)

			_, err := p.Transcribe(context.Background(), testWAV())
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestTranscribe_RespectsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	p, _ := whisper.New(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Transcribe(ctx, testWAV()); err == nil {
		t.Fatal("expected an error after the context deadline")
	}
}
