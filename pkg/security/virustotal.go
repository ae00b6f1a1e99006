// Package security decides whether an email attachment is safe to open by
// asking VirusTotal about it.
package security

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://www.virustotal.com/api/v3"

var errAnalysisPending = errors.New("analysis not completed")

type stats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
}

func (s stats) clean() bool { return s.Malicious+s.Suspicious == 0 }

// VirusTotal is a fail-closed attachment scanner. Any lookup, upload or
// polling failure makes the file unsafe.
type VirusTotal struct {
	BaseURL  string
	HTTP     *http.Client
	apiKey   string
	attempts int
	interval time.Duration
	logger   *zap.Logger
}

func NewVirusTotal(apiKey string, attempts int, interval time.Duration, logger *zap.Logger) *VirusTotal {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts <= 0 {
		attempts = 1
	}
	return &VirusTotal{
		BaseURL:  DefaultBaseURL,
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		apiKey:   apiKey,
		attempts: attempts,
		interval: interval,
		logger:   logger,
	}
}

// IsSafe reports whether data has no malicious or suspicious verdicts.
// Without an API key scanning is disabled and every file is safe.
func (v *VirusTotal) IsSafe(ctx context.Context, data []byte) bool {
	if v.apiKey == "" {
		v.logger.Warn("no VirusTotal API key configured, attachment scanning disabled")
		return true
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	log := v.logger.With(zap.String("sha256", hash))

	s, found, err := v.report(ctx, hash)
	if err != nil {
		log.Warn("VirusTotal lookup failed", zap.Error(err))
		return false
	}
	if !found {
		log.Info("file unknown to VirusTotal, uploading for analysis")
		id, err := v.upload(ctx, data)
		if err != nil {
			log.Warn("VirusTotal upload failed", zap.Error(err))
			return false
		}
		if s, err = v.waitAnalysis(ctx, id); err != nil {
			log.Warn("VirusTotal analysis did not complete", zap.String("analysis", id), zap.Error(err))
			return false
		}
	}

	log.Info("VirusTotal verdict", zap.Int("malicious", s.Malicious), zap.Int("suspicious", s.Suspicious))
	return s.clean()
}

func (v *VirusTotal) report(ctx context.Context, hash string) (stats, bool, error) {
	var body struct {
		Data struct {
			Attributes struct {
				Stats stats `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	status, err := v.do(ctx, http.MethodGet, "/files/"+hash, nil, "", &body)
	if err != nil {
		return stats{}, false, err
	}
	switch status {
	case http.StatusOK:
		return body.Data.Attributes.Stats, true, nil
	case http.StatusNotFound:
		return stats{}, false, nil
	}
	return stats{}, false, fmt.Errorf("unexpected status %d", status)
}

func (v *VirusTotal) upload(ctx context.Context, data []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "attachment.pdf")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var body struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	status, err := v.do(ctx, http.MethodPost, "/files", &buf, w.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || body.Data.ID == "" {
		return "", fmt.Errorf("upload rejected with status %d", status)
	}
	return body.Data.ID, nil
}

// waitAnalysis polls the analysis at a fixed interval until it completes or
// the attempts run out.
func (v *VirusTotal) waitAnalysis(ctx context.Context, id string) (stats, error) {
	var result stats
	b := retry.WithMaxRetries(uint64(v.attempts-1), retry.NewConstant(v.interval))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var body struct {
			Data struct {
				Attributes struct {
					Status string `json:"status"`
					Stats  stats  `json:"stats"`
				} `json:"attributes"`
			} `json:"data"`
		}
		status, err := v.do(ctx, http.MethodGet, "/analyses/"+id, nil, "", &body)
		if err != nil {
			return retry.RetryableError(err)
		}
		if status != http.StatusOK {
			return retry.RetryableError(fmt.Errorf("unexpected status %d", status))
		}
		if body.Data.Attributes.Status != "completed" {
			return retry.RetryableError(errAnalysisPending)
		}
		result = body.Data.Attributes.Stats
		return nil
	})
	return result, err
}

// do sends one request and decodes a 200 response into out.
func (v *VirusTotal) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, v.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("x-apikey", v.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := v.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
