package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-sentinel/internal/alerts"
	"github.com/technosupport/ts-sentinel/internal/analyzer"
	"github.com/technosupport/ts-sentinel/internal/clip"
	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/dedup"
	"github.com/technosupport/ts-sentinel/internal/evidence"
	"github.com/technosupport/ts-sentinel/internal/middleware"
	"github.com/technosupport/ts-sentinel/internal/ring"
	"github.com/technosupport/ts-sentinel/internal/tenants"
	"github.com/technosupport/ts-sentinel/internal/vision"
)

// encodeFrame renders a flat-colored JPEG so fingerprinting has real
// image data to chew on.
func encodeFrame(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// scriptedVision returns canned verdicts per role.
type scriptedVision struct {
	screener  *vision.Verdict
	confirmer *vision.Verdict
}

func (s *scriptedVision) Analyze(_ context.Context, role vision.Role, _ []vision.SampledFrame, _ string) (*vision.Verdict, error) {
	if role == vision.RoleScreener {
		return s.screener, nil
	}
	return s.confirmer, nil
}

type fakeAuth struct {
	creds map[string]*data.Tenant
}

func (f *fakeAuth) Authenticate(_ context.Context, plaintext string) (*data.Tenant, *data.Credential, error) {
	tenant, ok := f.creds[plaintext]
	if !ok {
		return nil, nil, tenants.ErrUnauthorized
	}
	return tenant, &data.Credential{ID: uuid.New(), TenantID: tenant.ID}, nil
}

type fakeResolver struct {
	name, contact string
	err           error
}

func (f *fakeResolver) TenantContact(context.Context, uuid.UUID) (string, string, error) {
	return f.name, f.contact, f.err
}

type fakeDispatcher struct {
	result string
	err    error
	sent   []*alerts.Alert
}

func (f *fakeDispatcher) Dispatch(_ context.Context, a *alerts.Alert) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, a)
	return f.result, nil
}

type usageEntry struct {
	tenantID uuid.UUID
	endpoint string
	cost     int
}

type fakeUsage struct {
	mu      sync.Mutex
	entries []usageEntry
}

func (f *fakeUsage) RecordUsage(_ context.Context, tenantID uuid.UUID, endpoint string, cost int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, usageEntry{tenantID: tenantID, endpoint: endpoint, cost: cost})
}

func (f *fakeUsage) recorded() []usageEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]usageEntry(nil), f.entries...)
}

type testEnv struct {
	handler    http.Handler
	supervisor *analyzer.Supervisor
	dispatcher *fakeDispatcher
	publisher  *evidence.Publisher
	usage      *fakeUsage
	tenantA    *data.Tenant
	tenantB    *data.Tenant
}

func newTestEnv(t *testing.T, vis vision.Analyzer, resolver *fakeResolver) *testEnv {
	t.Helper()
	if vis == nil {
		vis = &scriptedVision{screener: &vision.Verdict{}}
	}
	if resolver == nil {
		resolver = &fakeResolver{name: "Acme", contact: "ops@acme.example"}
	}

	cfg := analyzer.DefaultConfig()
	cfg.ScreenInterval = time.Hour // keep the background loop quiet
	sv := analyzer.NewSupervisor(cfg, vis, vision.NewPromptStore(""))
	t.Cleanup(sv.Stop)

	local, err := evidence.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	pubCfg := evidence.DefaultConfig()
	pubCfg.Secret = "evidence-secret"
	publisher := evidence.NewPublisher(pubCfg, local)

	assembler := clip.NewAssembler(clip.DefaultConfig())
	cache := dedup.NewCache(dedup.Config{Path: filepath.Join(t.TempDir(), "dedup.json")})
	dispatcher := &fakeDispatcher{result: alerts.ResultSent}

	tenantA := &data.Tenant{ID: uuid.New(), Name: "Acme", Active: true}
	tenantB := &data.Tenant{ID: uuid.New(), Name: "Globex", Active: true}

	env := &testEnv{
		supervisor: sv,
		dispatcher: dispatcher,
		publisher:  publisher,
		usage:      &fakeUsage{},
		tenantA:    tenantA,
		tenantB:    tenantB,
	}
	env.handler = Routes(Deps{
		Ingest:  NewIngestHandler(sv),
		Analyze: NewAnalyzeHandler(sv),
		Alert: &AlertHandler{
			Supervisor: sv,
			Cache:      cache,
			Tenants:    resolver,
			Assembler:  stubAssembler{},
			Publisher:  publisher,
			Dispatcher: dispatcher,
			Cooldown:   dedup.DefaultCooldown,
			LongWindow: cfg.LongWindow,
		},
		Evidence: NewEvidenceHandler(assembler, publisher),
		Admin:    &AdminHandler{},
		Auth: &fakeAuth{creds: map[string]*data.Tenant{
			"key-a": tenantA,
			"key-b": tenantB,
		}},
		Usage:    env.usage,
		AdminCfg: middleware.AdminConfig{Credential: "admin-secret"},
	})
	return env
}

// stubAssembler skips ffmpeg: the mp4 bytes are fake but stable.
type stubAssembler struct{}

func (stubAssembler) Assemble(_ context.Context, window []ring.Frame) (*clip.Result, error) {
	return &clip.Result{Data: []byte("mp4-bytes"), FPS: 25, Scale: 1.0, Codec: "libx264"}, nil
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) buffer(t *testing.T, key, sourceID string, frame []byte) *httptest.ResponseRecorder {
	return e.do(t, "POST", "/buffer/frame", key, map[string]any{
		"source_id":   sourceID,
		"source_name": "Lobby",
		"frame_data":  base64.StdEncoding.EncodeToString(frame),
		"frame_count": 1,
	})
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestBufferFrame(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	frame := encodeFrame(t, color.RGBA{R: 200, A: 255})

	rr := env.buffer(t, "key-a", "cam-1", frame)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Status     string `json:"status"`
		BufferSize int    `json:"buffer_size"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "buffered", body.Status)
	assert.Equal(t, 1, body.BufferSize)
}

func TestBufferFrameRecordsUsage(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rr := env.buffer(t, "key-a", "cam-1", encodeFrame(t, color.RGBA{R: 200, A: 255}))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	entries := env.usage.recorded()
	require.Len(t, entries, 1)
	assert.Equal(t, env.tenantA.ID, entries[0].tenantID)
	assert.Equal(t, "/buffer/frame", entries[0].endpoint)
	assert.Equal(t, 1, entries[0].cost)

	// Rejected frames cost nothing.
	env.do(t, "POST", "/buffer/frame", "key-a", map[string]any{
		"source_id":  "cam-1",
		"frame_data": "!!!not-base64!!!",
	})
	assert.Len(t, env.usage.recorded(), 1)
}

func TestBufferFrameUnauthenticated(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.buffer(t, "", "cam-1", encodeFrame(t, color.RGBA{A: 255}))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestBufferFrameBadPayload(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.do(t, "POST", "/buffer/frame", "key-a", map[string]any{
		"source_id":  "cam-1",
		"frame_data": "!!!not-base64!!!",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// A source id claimed by one tenant is off limits to every other, on
// every endpoint that names a source.
func TestSourceIsolation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	frame := encodeFrame(t, color.RGBA{G: 180, A: 255})

	require.Equal(t, http.StatusOK, env.buffer(t, "key-a", "cam-shared", frame).Code)

	rr := env.buffer(t, "key-b", "cam-shared", frame)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, "POST", "/analyze/on-demand", "key-b", map[string]any{
		"source_ids": []string{"cam-shared"},
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, "POST", "/alert", "key-b", map[string]any{
		"source_id":     "cam-shared",
		"incident_type": "intrusion",
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestOnDemandAnalyzeConfirmed(t *testing.T) {
	vis := &scriptedVision{
		screener: &vision.Verdict{Incident: true, IncidentKind: "intrusion", Narrative: "person at fence"},
		confirmer: &vision.Verdict{
			Incident:     true,
			IncidentKind: "intrusion",
			Narrative:    "confirmed person climbing",
			PerFrame: []vision.FrameVerdict{
				{Position: "start", Incident: true},
				{Position: "middle", Incident: false},
				{Position: "end", Incident: true},
			},
		},
	}
	env := newTestEnv(t, vis, nil)
	frame := encodeFrame(t, color.RGBA{B: 220, A: 255})
	require.Equal(t, http.StatusOK, env.buffer(t, "key-a", "cam-1", frame).Code)

	rr := env.do(t, "POST", "/analyze/on-demand", "key-a", map[string]any{
		"source_ids": []string{"cam-1"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		TenantName      string                    `json:"tenant_name"`
		SourcesAnalyzed int                       `json:"sources_analyzed"`
		Sources         map[string]*sourceVerdict `json:"sources"`
		Summary         struct {
			ScreenerPositives      int  `json:"screener_positives"`
			ConfirmerConfirmations int  `json:"confirmer_confirmations"`
			ConfirmerVetoes        int  `json:"confirmer_vetoes"`
			AnyConfirmed           bool `json:"any_confirmed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	assert.Equal(t, "Acme", body.TenantName)
	assert.Equal(t, 1, body.SourcesAnalyzed)
	require.Contains(t, body.Sources, "cam-1")
	v := body.Sources["cam-1"]
	assert.True(t, v.HasSecurityIncident)
	assert.True(t, v.Confirmed)
	assert.False(t, v.Vetoed)
	assert.Equal(t, "intrusion", v.IncidentType)
	assert.Len(t, v.PerFrame, 3)
	assert.Equal(t, 1, body.Summary.ConfirmerConfirmations)
	assert.True(t, body.Summary.AnyConfirmed)
}

func TestOnDemandAnalyzeVeto(t *testing.T) {
	vis := &scriptedVision{
		screener: &vision.Verdict{Incident: true, IncidentKind: "intrusion"},
		confirmer: &vision.Verdict{
			PerFrame: []vision.FrameVerdict{
				{Position: "start"}, {Position: "middle"}, {Position: "end"},
			},
		},
	}
	env := newTestEnv(t, vis, nil)
	require.Equal(t, http.StatusOK, env.buffer(t, "key-a", "cam-1", encodeFrame(t, color.RGBA{R: 90, A: 255})).Code)

	rr := env.do(t, "POST", "/analyze/on-demand", "key-a", map[string]any{
		"source_ids": []string{"cam-1"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Sources map[string]*sourceVerdict `json:"sources"`
		Summary struct {
			ConfirmerVetoes int  `json:"confirmer_vetoes"`
			AnyConfirmed    bool `json:"any_confirmed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Sources["cam-1"].Vetoed)
	assert.False(t, body.Sources["cam-1"].HasSecurityIncident)
	assert.Equal(t, 1, body.Summary.ConfirmerVetoes)
	assert.False(t, body.Summary.AnyConfirmed)
}

func TestOnDemandUnknownSource(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.do(t, "POST", "/analyze/on-demand", "key-a", map[string]any{
		"source_ids": []string{"never-seen"},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		SourcesAnalyzed int                       `json:"sources_analyzed"`
		Sources         map[string]*sourceVerdict `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 0, body.SourcesAnalyzed)
	assert.Equal(t, "unknown source", body.Sources["never-seen"].Error)
}

func TestAlertNoBufferedFrames(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	rr := env.do(t, "POST", "/alert", "key-a", map[string]any{
		"source_id":     "cam-empty",
		"incident_type": "intrusion",
		"narrative":     "client-side detection",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAlertDelivered(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	frame := encodeFrame(t, color.RGBA{R: 40, G: 200, B: 10, A: 255})
	require.Equal(t, http.StatusOK, env.buffer(t, "key-a", "cam-1", frame).Code)

	rr := env.do(t, "POST", "/alert", "key-a", map[string]any{
		"source_id":     "cam-1",
		"incident_type": "intrusion",
		"risk":          "HIGH",
		"narrative":     "person seen at the gate",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body struct {
		Delivered       bool   `json:"delivered"`
		Recipient       string `json:"recipient"`
		EvidenceURL     string `json:"evidence_url"`
		StorageLocation string `json:"storage_location"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(t, body.Delivered)
	assert.Equal(t, "ops@acme.example", body.Recipient)
	assert.Equal(t, evidence.StorageLocal, body.StorageLocation)
	assert.NotEmpty(t, body.EvidenceURL)

	require.Len(t, env.dispatcher.sent, 1)
	sent := env.dispatcher.sent[0]
	assert.Equal(t, "intrusion", sent.IncidentKind)
	assert.Contains(t, sent.Narrative, "Risk: HIGH")
	assert.Contains(t, sent.Narrative, "person seen at the gate")
}

// A second identical submission inside the cooldown is suppressed, not
// re-delivered.
func TestAlertSuppressedOnRepeat(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	frame := encodeFrame(t, color.RGBA{R: 10, G: 10, B: 240, A: 255})
	require.Equal(t, http.StatusOK, env.buffer(t, "key-a", "cam-1", frame).Code)

	payload := map[string]any{
		"source_id":     "cam-1",
		"incident_type": "intrusion",
	}
	require.Equal(t, http.StatusOK, env.do(t, "POST", "/alert", "key-a", payload).Code)
	require.Len(t, env.dispatcher.sent, 1)

	rr := env.do(t, "POST", "/alert", "key-a", payload)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Delivered  bool `json:"delivered"`
		Suppressed bool `json:"suppressed"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Delivered)
	assert.True(t, body.Suppressed)
	assert.Len(t, env.dispatcher.sent, 1)
}

func TestAlertNoContactAddress(t *testing.T) {
	env := newTestEnv(t, nil, &fakeResolver{name: "Acme", contact: ""})
	env.dispatcher.err = alerts.ErrNoRecipient
	frame := encodeFrame(t, color.RGBA{R: 120, A: 255})
	require.Equal(t, http.StatusOK, env.buffer(t, "key-a", "cam-1", frame).Code)

	rr := env.do(t, "POST", "/alert", "key-a", map[string]any{
		"source_id":     "cam-1",
		"incident_type": "intrusion",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "contact address not configured")
}

func TestEvidenceServe(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	// Publish a clip; with no store configured it lands locally.
	rec, err := env.publisher.Publish(context.Background(), env.tenantA.ID, []byte("clip-bytes"), "intrusion")
	require.NoError(t, err)
	require.Equal(t, evidence.StorageLocal, rec.StorageLocation)

	rr := env.do(t, "GET", "/evidence/"+rec.ClipID+"?token="+rec.Token, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))
	assert.Equal(t, "clip-bytes", rr.Body.String())

	rr = env.do(t, "GET", "/evidence/"+rec.ClipID+"?token=deadbeefdeadbeefdeadbeefdeadbeef", "", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid token")

	rr = env.do(t, "GET", "/evidence/no-such-clip?token="+rec.Token, "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "Clip not found")
}

func TestAssembleRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rr := env.do(t, "POST", "/evidence/assemble", "key-a", map[string]any{"frames": []string{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, "POST", "/evidence/assemble", "key-a", map[string]any{"frames": []string{"%%%"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCompressRejectsEmptyBody(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req := httptest.NewRequest("POST", "/evidence/compress", bytes.NewReader(nil))
	req.Header.Set("X-API-Key", "key-a")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rr := env.do(t, "POST", "/admin/tenants", "", map[string]any{"name": "NewCo"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest("POST", "/admin/tenants", bytes.NewBufferString(`{"name":"NewCo"}`))
	req.Header.Set("X-Admin-Key", "wrong")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
