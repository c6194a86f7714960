package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"stem-sync/session"
	"stem-sync/stems"
	"stem-sync/store"
	"stem-sync/wav"
	"strings"
	"time"

	"github.com/fatih/color"
)

func newManagerFromEnv() (*session.Manager, error) {
	cfg := session.ConfigFromEnv()

	db, err := store.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %v", err)
	}
	files, err := store.NewArtifacts(cfg.SessionsDir, cfg.MixesDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare artifact dirs: %v", err)
	}

	transformer := stems.NewTransformer(&stems.FFmpegPitchShifter{}, &stems.FFmpegTimeStretcher{})
	return session.NewManager(cfg, db, files, stems.NewDemucsSeparator(), transformer, nil), nil
}

func prepare(vocalPath, beatPath, vocalKey string, vocalBpm float64, beatKey string, beatBpm float64) {
	for _, path := range []string{vocalPath, beatPath} {
		if meta, err := wav.GetMetadata(path); err == nil {
			fmt.Printf("%s: %.1fs, %d Hz, %d channel(s)\n",
				filepath.Base(path), meta.Duration, meta.SampleRate, meta.Channels)
		}
	}

	m, err := newManagerFromEnv()
	if err != nil {
		color.Red("error: %v", err)
		return
	}
	defer m.Close()

	start := time.Now()
	res, err := m.Prepare(context.Background(), session.PrepareRequest{
		VocalPath: vocalPath,
		BeatPath:  beatPath,
		VocalKey:  vocalKey,
		VocalBpm:  vocalBpm,
		BeatKey:   beatKey,
		BeatBpm:   beatBpm,
	})
	if err != nil {
		color.Red("prepare failed: %v", err)
		return
	}

	color.Green("session %s prepared in %s", res.SessionID, time.Since(start).Round(time.Millisecond))
	fmt.Printf("  transform: %s\n", res.Meta.Transform)
	fmt.Printf("  preview:   %s\n", res.PreviewPath)
	fmt.Println()
	fmt.Printf("nudge timing:   stem-sync offset %s <beats>\n", res.SessionID)
	fmt.Printf("commit the mix: stem-sync finalize %s\n", res.SessionID)
}

func adjustOffset(sessionID string, beats float64) {
	m, err := newManagerFromEnv()
	if err != nil {
		color.Red("error: %v", err)
		return
	}
	defer m.Close()

	res, err := m.AdjustOffset(context.Background(), sessionID, beats)
	if err != nil {
		color.Red("offset adjustment failed: %v", err)
		return
	}

	color.Green("offset set to %.2f beats", res.OffsetBeats)
	fmt.Printf("  preview: %s\n", res.PreviewPath)
}

func finalize(sessionID string) {
	m, err := newManagerFromEnv()
	if err != nil {
		color.Red("error: %v", err)
		return
	}
	defer m.Close()

	res, err := m.Finalize(context.Background(), sessionID)
	if err != nil {
		color.Red("finalize failed: %v", err)
		return
	}

	color.Green("mix rendered: %s", res.MixPath)
	fmt.Println("session retired; working files removed, the rendered mix remains")
}

func listSessions() {
	m, err := newManagerFromEnv()
	if err != nil {
		color.Red("error: %v", err)
		return
	}
	defer m.Close()

	sessions, err := m.List()
	if err != nil {
		color.Red("failed to list sessions: %v", err)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("no active sessions")
		return
	}

	for _, s := range sessions {
		fmt.Printf("%s  %-10s  %s@%.0fbpm <- %s@%.0fbpm  offset %+.2f  (%s)\n",
			s.SessionID, s.State, s.FinalKey, s.FinalBpm, s.BeatKey, s.BeatBpm, s.OffsetBeats, s.Transform)
	}
}

func eraseSessions(all bool) {
	m, err := newManagerFromEnv()
	if err != nil {
		color.Red("error: %v", err)
		return
	}
	defer m.Close()

	removed, err := m.Erase(all)
	if err != nil {
		color.Red("erase failed: %v", err)
		return
	}

	fmt.Printf("removed %d session(s)\n", removed)
	if all {
		fmt.Println("rendered mixes cleared")
	}
	fmt.Println("erase complete")
}

func newRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", handlePrepare)
	mux.HandleFunc("GET /api/sessions", handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", handleStatus)
	mux.HandleFunc("GET /api/sessions/{id}/preview", handlePreview)
	mux.HandleFunc("POST /api/sessions/{id}/offset", handleOffset)
	mux.HandleFunc("POST /api/sessions/{id}/finalize", handleFinalize)
	mux.HandleFunc("GET /api/sessions/{id}/mix", handleMix)
	mux.HandleFunc("GET /api/stats", handleStats)

	mux.Handle("/", http.FileServer(http.Dir("static")))

	return requestLogger(corsMiddleware(mux))
}

func serve(port string) {
	m, err := newManagerFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	mgr = m
	defer mgr.Close()

	log.Printf("starting server on port %s\n", port)
	if err := http.ListenAndServe(":"+port, newRouter()); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)

		// skip noisy static file logs
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Printf("[http] %s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
		}
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
