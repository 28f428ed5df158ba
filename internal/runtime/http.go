package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type transcriptSnapshot struct {
	Text        string   `json:"text"`
	History     string   `json:"history"`
	Live        string   `json:"live"`
	Lines       []string `json:"lines"`
	ActiveModel string   `json:"active_model"`
	SampleRate  int      `json:"sample_rate"`
	Paused      bool     `json:"paused"`
	Errored     bool     `json:"errored"`
	Warnings    int      `json:"warnings"`
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.core != nil && r.core.Healthy() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleTranscript(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, warnings := r.buffer.LastWarning()
	snap := transcriptSnapshot{
		Text:        r.buffer.Text(),
		History:     r.buffer.History(),
		Live:        r.buffer.Live(),
		Lines:       r.buffer.Lines(),
		ActiveModel: r.core.ActiveModel(),
		SampleRate:  r.core.SampleRate(),
		Paused:      r.core.Paused(),
		Errored:     r.core.IsErrored(),
		Warnings:    warnings,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		r.logger.Warn("failed to write transcript", slog.String("error", err.Error()))
	}
}
