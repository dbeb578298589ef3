// Package evidence externalizes clips durably: primary path is the
// remote object store, fallback is a retention-managed local
// directory. Either way the caller gets back a tokenized URL.
package evidence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-sentinel/internal/metrics"
)

const (
	StorageRemote = "remote"
	StorageLocal  = "local"
)

// Record describes one published clip. StorageLocation tells the
// caller whether the primary path worked; the fallback is never a
// silent success.
type Record struct {
	ClipID          string
	TenantID        uuid.UUID
	URL             string
	Token           string
	StorageLocation string
	ExpiresAt       time.Time
	ByteSize        int64
}

type Config struct {
	StoreBaseURL    string // object store, e.g. http://store:9000
	StoreCredential string
	PublicBaseURL   string // base for tokenized clip URLs
	Secret          string // token shared secret
	ExpirationHours int
	Retries         int
	BackoffBase     time.Duration
	Retention       time.Duration // local-clip expiry
	Timeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ExpirationHours: 72,
		Retries:         3,
		BackoffBase:     2 * time.Second,
		Retention:       30 * 24 * time.Hour,
		Timeout:         60 * time.Second,
	}
}

type Publisher struct {
	cfg    Config
	local  *LocalStore
	client *http.Client
}

func NewPublisher(cfg Config, local *LocalStore) *Publisher {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Publisher{
		cfg:    cfg,
		local:  local,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Publish uploads the clip with retry and backoff, falling back to the
// local store on exhaustion.
func (p *Publisher) Publish(ctx context.Context, tenantID uuid.UUID, data []byte, incidentKind string) (*Record, error) {
	var lastErr error
	attempts := 1 + p.cfg.Retries
	for i := 1; i <= attempts; i++ {
		rec, retryable, err := p.upload(ctx, tenantID, data)
		if err == nil {
			metrics.RecordUpload("remote")
			return rec, nil
		}
		lastErr = err
		if !retryable {
			log.Printf("[ERROR] Evidence upload rejected permanently: %v", err)
			break
		}
		log.Printf("[WARN] Evidence upload attempt %d/%d failed: %v", i, attempts, err)
		if i < attempts {
			select {
			case <-time.After(p.cfg.BackoffBase * time.Duration(1<<(i-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	rec, err := p.fallback(tenantID, data, incidentKind)
	if err != nil {
		metrics.RecordUpload("failed")
		return nil, fmt.Errorf("upload failed (%v) and local fallback failed: %w", lastErr, err)
	}
	metrics.RecordUpload("local")
	log.Printf("[WARN] Evidence degraded to local storage: clip=%s reason=%v", rec.ClipID, lastErr)
	return rec, nil
}

// upload is one attempt against the object-store contract. The bool
// reports whether the failure is retryable.
func (p *Publisher) upload(ctx context.Context, tenantID uuid.UUID, data []byte) (*Record, bool, error) {
	if p.cfg.StoreBaseURL == "" {
		return nil, false, fmt.Errorf("no object store configured")
	}

	videoID := uuid.New().String()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("video", videoID+".mp4")
	if err != nil {
		return nil, false, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, false, err
	}
	meta, _ := json.Marshal(map[string]string{"video_id": videoID})
	if err := mw.WriteField("metadata", string(meta)); err != nil {
		return nil, false, err
	}
	if err := mw.WriteField("expiration_hours", fmt.Sprintf("%d", p.cfg.ExpirationHours)); err != nil {
		return nil, false, err
	}
	if err := mw.Close(); err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.StoreBaseURL+"/api/v1/videos/upload", &body)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if p.cfg.StoreCredential != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.StoreCredential)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		// network, DNS, timeout: retryable
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("store status=%d body=%s", resp.StatusCode, b)
		retryable := resp.StatusCode >= 500 ||
			resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, err
	}

	var out struct {
		Success        bool   `json:"success"`
		VideoID        string `json:"video_id"`
		PrivateLink    string `json:"private_link"`
		ExpirationTime string `json:"expiration_time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("malformed store response: %w", err)
	}
	if !out.Success || out.VideoID == "" {
		return nil, false, fmt.Errorf("store refused upload: success=%v", out.Success)
	}

	expiresAt, err := time.Parse(time.RFC3339, out.ExpirationTime)
	if err != nil {
		expiresAt = time.Now().Add(time.Duration(p.cfg.ExpirationHours) * time.Hour)
	}

	token := Token(out.VideoID, expiresAt, p.cfg.Secret)
	return &Record{
		ClipID:          out.VideoID,
		TenantID:        tenantID,
		URL:             fmt.Sprintf("%s/video/%s?token=%s", p.cfg.PublicBaseURL, out.VideoID, token),
		Token:           token,
		StorageLocation: StorageRemote,
		ExpiresAt:       expiresAt,
		ByteSize:        int64(len(data)),
	}, false, nil
}

// fallback writes the clip to the content-addressed local store with a
// retention-derived expiry.
func (p *Publisher) fallback(tenantID uuid.UUID, data []byte, incidentKind string) (*Record, error) {
	if p.local == nil {
		return nil, fmt.Errorf("no local store configured")
	}

	now := time.Now()
	expiresAt := now.Add(p.cfg.Retention)
	clipID, path, err := p.local.Put(data, Sidecar{
		TenantID:     tenantID,
		ProducedAt:   now,
		ExpiresAt:    expiresAt,
		IncidentKind: incidentKind,
	})
	if err != nil {
		return nil, err
	}

	return &Record{
		ClipID:          clipID,
		TenantID:        tenantID,
		URL:             "local://" + path,
		Token:           Token(clipID, expiresAt, p.cfg.Secret),
		StorageLocation: StorageLocal,
		ExpiresAt:       expiresAt,
		ByteSize:        int64(len(data)),
	}, nil
}

// Local exposes the fallback store for the serving endpoint.
func (p *Publisher) Local() *LocalStore {
	return p.local
}

// Secret exposes the token secret for the serving endpoint.
func (p *Publisher) Secret() string {
	return p.cfg.Secret
}
