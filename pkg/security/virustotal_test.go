package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var sample = []byte("%PDF-1.4 sample")

func sampleHash() string {
	sum := sha256.Sum256(sample)
	return hex.EncodeToString(sum[:])
}

func newTestScanner(t *testing.T, h http.Handler, attempts int) *VirusTotal {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	v := NewVirusTotal("secret", attempts, time.Millisecond, zap.NewNop())
	v.BaseURL = srv.URL
	return v
}

func TestKnownFile(t *testing.T) {
	cases := []struct {
		name       string
		malicious  int
		suspicious int
		want       bool
	}{
		{"clean", 0, 0, true},
		{"malicious", 2, 0, false},
		{"suspicious", 0, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestScanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "secret", r.Header.Get("x-apikey"))
				assert.Equal(t, "/files/"+sampleHash(), r.URL.Path)
				fmt.Fprintf(w, `{"data":{"attributes":{"last_analysis_stats":{"malicious":%d,"suspicious":%d,"harmless":50}}}}`,
					tc.malicious, tc.suspicious)
			}), 3)
			assert.Equal(t, tc.want, v.IsSafe(context.Background(), sample))
		})
	}
}

func TestUnknownFileIsUploadedAndPolled(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /files/{hash}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "attachment.pdf", hdr.Filename)
		fmt.Fprint(w, `{"data":{"id":"an-1"}}`)
	})
	mux.HandleFunc("GET /analyses/an-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			fmt.Fprint(w, `{"data":{"attributes":{"status":"queued"}}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"attributes":{"status":"completed","stats":{"malicious":0,"suspicious":0}}}}`)
	})

	v := newTestScanner(t, mux, 12)
	assert.True(t, v.IsSafe(context.Background(), sample))
	assert.EqualValues(t, 3, polls.Load())
}

func TestPollingTimeoutFailsClosed(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /files/{hash}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"id":"an-2"}}`)
	})
	mux.HandleFunc("GET /analyses/an-2", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		fmt.Fprint(w, `{"data":{"attributes":{"status":"in-progress"}}}`)
	})

	v := newTestScanner(t, mux, 4)
	assert.False(t, v.IsSafe(context.Background(), sample))
	assert.EqualValues(t, 4, polls.Load())
}

func TestErrorsFailClosed(t *testing.T) {
	v := newTestScanner(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}), 3)
	assert.False(t, v.IsSafe(context.Background(), sample))

	v = NewVirusTotal("secret", 3, time.Millisecond, zap.NewNop())
	v.BaseURL = "http://127.0.0.1:1"
	assert.False(t, v.IsSafe(context.Background(), sample))
}

func TestNoAPIKeyDisablesScanning(t *testing.T) {
	v := NewVirusTotal("", 12, time.Second, zap.NewNop())
	v.BaseURL = "http://invalid.invalid"
	assert.True(t, v.IsSafe(context.Background(), sample))
}
