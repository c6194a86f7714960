package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"stem-sync/dsp"
	"stem-sync/match"
	"stem-sync/models"
	"stem-sync/session"
	"stem-sync/stems"
	"stem-sync/utils"
	"stem-sync/wav"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
)

const maxUploadSize = 200 << 20 // 200 MB

const maxOffsetBody = 1 << 20

// mgr backs every HTTP handler; serve() wires it before listening.
var mgr *session.Manager

type prepareResponse struct {
	SessionID   string  `json:"sessionId"`
	PreviewURL  string  `json:"previewUrl"`
	OffsetBeats float64 `json:"offsetBeats"`
	State       string  `json:"state"`
	FinalKey    string  `json:"finalKey"`
	FinalBpm    float64 `json:"finalBpm"`
	Transform   string  `json:"transform"`
}

type offsetResponse struct {
	PreviewURL  string  `json:"previewUrl"`
	OffsetBeats float64 `json:"offsetBeats"`
}

type finalizeResponse struct {
	MixURL string `json:"mixUrl"`
}

type sessionResponse struct {
	SessionID   string    `json:"sessionId"`
	State       string    `json:"state"`
	VocalKey    string    `json:"vocalKey"`
	VocalBpm    float64   `json:"vocalBpm"`
	BeatKey     string    `json:"beatKey"`
	BeatBpm     float64   `json:"beatBpm"`
	FinalKey    string    `json:"finalKey"`
	FinalBpm    float64   `json:"finalBpm"`
	OffsetBeats float64   `json:"offsetBeats"`
	Transform   string    `json:"transform"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type statsResponse struct {
	ActiveSessions int    `json:"activeSessions"`
	RenderedMixes  int    `json:"renderedMixes"`
	StorageUsed    string `json:"storageUsed"`
}

func toSessionResponse(m models.SessionMetadata) sessionResponse {
	return sessionResponse{
		SessionID:   m.SessionID,
		State:       string(m.State),
		VocalKey:    m.VocalKey,
		VocalBpm:    m.VocalBpm,
		BeatKey:     m.BeatKey,
		BeatBpm:     m.BeatBpm,
		FinalKey:    m.FinalKey,
		FinalBpm:    m.FinalBpm,
		OffsetBeats: m.OffsetBeats,
		Transform:   m.Transform,
		UpdatedAt:   m.UpdatedAt,
	}
}

func previewURL(id string) string {
	return fmt.Sprintf("/api/sessions/%s/preview", id)
}

func mixURL(id string) string {
	return fmt.Sprintf("/api/sessions/%s/mix", id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	log.Printf("[error] %d %s: %s", status, kind, msg)
	writeJSON(w, status, map[string]string{"kind": kind, "error": msg})
}

// writeDomainError maps the pipeline's typed errors onto HTTP status
// codes; anything unrecognized is an internal error.
func writeDomainError(w http.ResponseWriter, err error) {
	status, kind := classifyError(err)
	writeError(w, status, kind, err.Error())
}

func classifyError(err error) (int, string) {
	var keyErr *match.InvalidKeyError
	var notFound *session.SessionNotFoundError
	var stateErr *session.InvalidStateError
	var sepErr *stems.SeparationError
	var rateErr *dsp.SampleRateMismatchError

	switch {
	case errors.As(err, &keyErr):
		return http.StatusBadRequest, "invalid_key"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "session_not_found"
	case errors.As(err, &stateErr):
		return http.StatusConflict, "invalid_state"
	case errors.As(err, &sepErr):
		return http.StatusBadGateway, "separation_failed"
	case errors.As(err, &rateErr):
		return http.StatusInternalServerError, "sample_rate_mismatch"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func logMemUsage(label string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Printf("[mem] %s: alloc=%s, sys=%s, heap_in_use=%s",
		label, formatBytes(int64(m.Alloc)), formatBytes(int64(m.Sys)), formatBytes(int64(m.HeapInuse)))
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func saveUploadedFile(r *http.Request, field string) (string, string, int64, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", "", 0, fmt.Errorf("no %s file provided: %v", field, err)
	}
	defer file.Close()

	if err := utils.CreateFolder("tmp"); err != nil {
		return "", "", 0, fmt.Errorf("failed to create tmp dir: %v", err)
	}

	dst, err := os.CreateTemp("tmp", field+"_*"+filepath.Ext(header.Filename))
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create temp file: %v", err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		os.Remove(dst.Name())
		return "", "", 0, fmt.Errorf("failed to write file: %v", err)
	}

	return dst.Name(), header.Filename, written, nil
}

// bpmField parses a positive BPM form value. ParseFloat accepts "NaN"
// and "Inf" spellings without error, so the range check must reject
// them explicitly.
func bpmField(r *http.Request, field string) (float64, error) {
	raw := r.FormValue(field)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", field, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive number, got %q", field, raw)
	}
	return v, nil
}

func parsePrepareForm(r *http.Request, vocalPath, beatPath string) (session.PrepareRequest, error) {
	vocalBpm, err := bpmField(r, "vocal_bpm")
	if err != nil {
		return session.PrepareRequest{}, err
	}
	beatBpm, err := bpmField(r, "beat_bpm")
	if err != nil {
		return session.PrepareRequest{}, err
	}

	return session.PrepareRequest{
		VocalPath: vocalPath,
		BeatPath:  beatPath,
		VocalKey:  r.FormValue("vocal_key"),
		VocalBpm:  vocalBpm,
		BeatKey:   r.FormValue("beat_key"),
		BeatBpm:   beatBpm,
	}, nil
}

// sessionIDParam extracts and validates the {id} path segment.
// Rejecting anything that isn't one of our ids keeps arbitrary path
// components away from the artifact directories.
func sessionIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !utils.IsValidSessionID(id) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid session id")
		return "", false
	}
	return id, true
}

func handlePrepare(w http.ResponseWriter, r *http.Request) {
	reqStart := time.Now()
	log.Printf("[prepare] received request from %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "upload too large or invalid form")
		return
	}

	vocalPath, vocalName, vocalSize, err := saveUploadedFile(r, "vocal")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer os.Remove(vocalPath)

	beatPath, beatName, beatSize, err := saveUploadedFile(r, "beat")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	defer os.Remove(beatPath)

	log.Printf("[prepare] files saved: vocal %s (%s), beat %s (%s)",
		vocalName, formatBytes(vocalSize), beatName, formatBytes(beatSize))

	req, err := parsePrepareForm(r, vocalPath, beatPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if dur, err := wav.GetAudioDuration(vocalPath); err == nil {
		log.Printf("[prepare] vocal duration: %.1f seconds", dur)
	}

	logMemUsage("before prepare")
	res, err := mgr.Prepare(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	logMemUsage("after prepare")

	log.Printf("[prepare] completed %s in %s", res.SessionID, time.Since(reqStart))
	writeJSON(w, http.StatusOK, prepareResponse{
		SessionID:   res.SessionID,
		PreviewURL:  previewURL(res.SessionID),
		OffsetBeats: res.Meta.OffsetBeats,
		State:       string(res.Meta.State),
		FinalKey:    res.Meta.FinalKey,
		FinalBpm:    res.Meta.FinalBpm,
		Transform:   res.Meta.Transform,
	})
}

func handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := mgr.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to list sessions")
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	meta, err := mgr.Status(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(*meta))
}

func handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	path, err := mgr.GetPreview(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func handleOffset(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOffsetBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return
	}
	offsetBeats, err := jsonparser.GetFloat(body, "offset_beats")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing or invalid offset_beats")
		return
	}

	res, err := mgr.AdjustOffset(r.Context(), id, offsetBeats)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("[offset] session %s -> %.2f beats", id, res.OffsetBeats)
	writeJSON(w, http.StatusOK, offsetResponse{
		PreviewURL:  previewURL(id),
		OffsetBeats: res.OffsetBeats,
	})
}

func handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	reqStart := time.Now()
	if _, err := mgr.Finalize(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("[finalize] session %s rendered in %s", id, time.Since(reqStart))
	writeJSON(w, http.StatusOK, finalizeResponse{MixURL: mixURL(id)})
}

func handleMix(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionIDParam(w, r)
	if !ok {
		return
	}

	path, err := mgr.MixPath(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := mgr.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to collect stats")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		ActiveSessions: stats.ActiveSessions,
		RenderedMixes:  stats.RenderedMixes,
		StorageUsed:    formatBytes(stats.StorageBytes),
	})
}
