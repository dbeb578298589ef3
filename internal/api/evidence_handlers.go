package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/technosupport/ts-sentinel/internal/clip"
	"github.com/technosupport/ts-sentinel/internal/evidence"
	"github.com/technosupport/ts-sentinel/internal/middleware"
	"github.com/technosupport/ts-sentinel/internal/ring"
)

// maxClipUpload bounds request bodies on the clip endpoints.
const maxClipUpload = 100 << 20

type EvidenceHandler struct {
	Assembler *clip.Assembler
	Publisher *evidence.Publisher
}

func NewEvidenceHandler(a *clip.Assembler, p *evidence.Publisher) *EvidenceHandler {
	return &EvidenceHandler{Assembler: a, Publisher: p}
}

// POST /evidence/assemble
//
// Builds an MP4 from client-supplied frames and returns the bytes.
// Publication is the /alert pipeline's job; this endpoint is the raw
// building block.
func (h *EvidenceHandler) Assemble(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frames    []string `json:"frames"` // base64 JPEGs, oldest first
		TargetFPS float64  `json:"target_fps,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxClipUpload)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInput, "Invalid JSON")
		return
	}
	if len(req.Frames) == 0 {
		respondError(w, http.StatusBadRequest, codeInput, "frames is required")
		return
	}

	now := time.Now().UTC()
	window := make([]ring.Frame, 0, len(req.Frames))
	for i, f := range req.Frames {
		payload, err := base64.StdEncoding.DecodeString(f)
		if err != nil || len(payload) == 0 {
			respondError(w, http.StatusBadRequest, codeInput, fmt.Sprintf("frames[%d] is not base64 JPEG", i))
			return
		}
		window = append(window, ring.Frame{
			Seq:        uint64(i),
			CapturedAt: now,
			Payload:    payload,
			Encoding:   "jpeg",
		})
	}

	res, err := h.Assembler.Assemble(r.Context(), window)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, codeInput, "Clip assembly failed")
		return
	}

	middleware.SetUsageCost(r, 1)
	writeClip(w, res)
}

// POST /evidence/compress
//
// Re-encodes an existing MP4 under the size budget. Body is raw
// video/mp4 bytes.
func (h *EvidenceHandler) Compress(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxClipUpload))
	if err != nil || len(body) == 0 {
		respondError(w, http.StatusBadRequest, codeInput, "Request body must be video/mp4 bytes")
		return
	}

	res, err := h.Assembler.Compress(r.Context(), body)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, codeInput, "Compression failed")
		return
	}
	writeClip(w, res)
}

func writeClip(w http.ResponseWriter, res *clip.Result) {
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Clip-Codec", res.Codec)
	w.Header().Set("X-Clip-Fps", strconv.FormatFloat(res.FPS, 'f', -1, 64))
	w.Header().Set("X-Clip-Scale", strconv.FormatFloat(res.Scale, 'f', -1, 64))
	w.Header().Set("X-Clip-Over-Budget", strconv.FormatBool(res.OverBudget))
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

// GET /evidence/{clip_id}?token=<hex>
//
// Serves locally stored fallback clips. The token is self-authorizing:
// whoever holds a valid unexpired token gets the bytes.
func (h *EvidenceHandler) Serve(w http.ResponseWriter, r *http.Request) {
	clipID := chi.URLParam(r, "clip_id")
	token := r.URL.Query().Get("token")
	if clipID == "" || token == "" {
		respondError(w, http.StatusForbidden, codeForbidden, "Invalid token")
		return
	}

	data, meta, err := h.Publisher.Local().Get(clipID)
	if err != nil {
		if errors.Is(err, evidence.ErrClipNotFound) {
			respondError(w, http.StatusNotFound, codeNotFound, "Clip not found")
			return
		}
		respondError(w, http.StatusInternalServerError, codeInternal, "Evidence read failed")
		return
	}

	if err := evidence.VerifyToken(clipID, meta.ExpiresAt, h.Publisher.Secret(), token); err != nil {
		respondError(w, http.StatusForbidden, codeForbidden, "Invalid token")
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
