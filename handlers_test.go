package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"stem-sync/dsp"
	"stem-sync/match"
	"stem-sync/models"
	"stem-sync/session"
	"stem-sync/stems"
	"stem-sync/store"
	"stem-sync/utils"
	"strings"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{&match.InvalidKeyError{Key: "H"}, http.StatusBadRequest, "invalid_key"},
		{&session.SessionNotFoundError{SessionID: "x"}, http.StatusNotFound, "session_not_found"},
		{&session.InvalidStateError{SessionID: "x", State: models.StateFinalized, Operation: "finalize"}, http.StatusConflict, "invalid_state"},
		{&stems.SeparationError{InputPath: "a.wav", Detail: "boom"}, http.StatusBadGateway, "separation_failed"},
		{&dsp.SampleRateMismatchError{RateA: 44100, RateB: 48000}, http.StatusInternalServerError, "sample_rate_mismatch"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, c := range cases {
		status, kind := classifyError(c.err)
		if status != c.status || kind != c.kind {
			t.Errorf("classifyError(%v) = %d %q, want %d %q", c.err, status, kind, c.status, c.kind)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 << 20, "3.0 MB"},
		{5 << 30, "5.0 GB"},
	}
	for _, c := range cases {
		if got := formatBytes(c.in); got != c.want {
			t.Errorf("formatBytes(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func prepareFormRequest(vocalBpm, beatBpm string) *http.Request {
	form := url.Values{
		"vocal_key": {"C"},
		"vocal_bpm": {vocalBpm},
		"beat_key":  {"G"},
		"beat_bpm":  {beatBpm},
	}
	r := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParsePrepareForm(t *testing.T) {
	req, err := parsePrepareForm(prepareFormRequest("120", "98.5"), "v.wav", "b.wav")
	if err != nil {
		t.Fatal(err)
	}
	if req.VocalKey != "C" || req.VocalBpm != 120 || req.BeatKey != "G" || req.BeatBpm != 98.5 {
		t.Errorf("parsed request = %+v", req)
	}
	if req.VocalPath != "v.wav" || req.BeatPath != "b.wav" {
		t.Errorf("paths = %q, %q", req.VocalPath, req.BeatPath)
	}

	// ParseFloat parses the first four of these without error, so the
	// range check has to be the one that turns them away
	for _, bad := range []string{"NaN", "Inf", "+Inf", "-Inf", "0", "-120", "sideways", ""} {
		if _, err := parsePrepareForm(prepareFormRequest(bad, "100"), "v.wav", "b.wav"); err == nil {
			t.Errorf("vocal_bpm=%q was accepted", bad)
		}
		if _, err := parsePrepareForm(prepareFormRequest("120", bad), "v.wav", "b.wav"); err == nil {
			t.Errorf("beat_bpm=%q was accepted", bad)
		}
	}
}

// newTestServer backs the handlers with a memory store seeded with one
// prepared session. Nothing here touches ffmpeg or demucs, so only
// the metadata endpoints are driven end to end.
func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()

	base := t.TempDir()
	files, err := store.NewArtifacts(filepath.Join(base, "sessions"), filepath.Join(base, "mixes"))
	if err != nil {
		t.Fatal(err)
	}

	id := utils.GenerateSessionID()
	db := store.NewMemoryStore()
	now := time.Now()
	if err := db.SaveSession(&models.SessionMetadata{
		SessionID:  id,
		VocalKey:   "C",
		VocalBpm:   120,
		BeatKey:    "G",
		BeatBpm:    100,
		FinalKey:   "C",
		FinalBpm:   120,
		SampleRate: 44100,
		Channels:   1,
		State:      models.StatePrepared,
		Transform:  "transposed +5 st, stretched x1.20",
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatal(err)
	}

	transformer := stems.NewTransformer(&stems.FFmpegPitchShifter{}, &stems.FFmpegTimeStretcher{})
	mgr = session.NewManager(session.DefaultConfig(), db, files, stems.NewDemucsSeparator(), transformer, nil)
	t.Cleanup(func() { mgr.Close() })

	srv := httptest.NewServer(newRouter())
	t.Cleanup(srv.Close)
	return srv, id
}

func TestStatusEndpoint(t *testing.T) {
	srv, id := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sessions/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.SessionID != id || body.State != string(models.StatePrepared) {
		t.Errorf("body = %+v", body)
	}

	// a valid-looking but unknown id is a 404, a malformed one a 400
	resp2, err := http.Get(srv.URL + "/api/sessions/" + utils.GenerateSessionID())
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp2.StatusCode)
	}

	resp3, err := http.Get(srv.URL + "/api/sessions/not-a-session")
	if err != nil {
		t.Fatal(err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", resp3.StatusCode)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	srv, id := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sessions []sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != id {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestOffsetEndpointValidation(t *testing.T) {
	srv, id := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/sessions/"+id+"/offset", "application/json",
		strings.NewReader(`{"offset_beats": "sideways"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-numeric offset status = %d, want 400", resp.StatusCode)
	}

	resp2, err := http.Post(srv.URL+"/api/sessions/"+utils.GenerateSessionID()+"/offset",
		"application/json", strings.NewReader(`{"offset_beats": 1.5}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session offset status = %d, want 404", resp2.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["kind"] != "session_not_found" {
		t.Errorf("kind = %q, want session_not_found", body["kind"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.ActiveSessions != 1 || stats.RenderedMixes != 0 {
		t.Errorf("stats = %+v, want 1 active and 0 mixes", stats)
	}
	if stats.StorageUsed != "0 B" {
		t.Errorf("storageUsed = %q, want 0 B", stats.StorageUsed)
	}
}

func TestRouterMethodsAndCORS(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sessions", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("DELETE status = %d, want 405", resp.StatusCode)
	}

	preflight, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/sessions", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp2, err := http.DefaultClient.Do(preflight)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", resp2.StatusCode)
	}
	if resp2.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow-origin header")
	}
}
