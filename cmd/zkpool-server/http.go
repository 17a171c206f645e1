package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/JellyTony/zkpool/app/server"
)

func newMux(app *server.AppServer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": app.Coordinator().Sessions()})
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		account := q.Get("account")
		if account == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "account is required"})
			return
		}
		m := time.Now()
		if ms := q.Get("minute"); ms != "" {
			t, err := time.Parse(time.RFC3339, ms)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			m = t
		}
		cnt, err := app.Shares(account, q.Get("worker"), m)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"account":     account,
			"worker":      q.Get("worker"),
			"minute":      m.Truncate(time.Minute).Format(time.RFC3339),
			"share_count": cnt,
		})
	})
	mux.HandleFunc("/speed", func(w http.ResponseWriter, r *http.Request) {
		sid := r.URL.Query().Get("session")
		sp, ok := app.Speed(sid)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "session not found"})
			return
		}
		writeJSON(w, http.StatusOK, sp)
	})
	mux.HandleFunc("/job", func(w http.ResponseWriter, r *http.Request) {
		job, ok := app.Coordinator().CurrentJob()
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "no job yet"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job_id": job.ID, "height": job.Height, "epoch": job.Epoch, "created_at": job.CreatedAt.Format(time.RFC3339)})
	})
	mux.HandleFunc("/shutdown/status", func(w http.ResponseWriter, r *http.Request) {
		st := app.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"start_at":      st.StartAt.Format(time.RFC3339),
			"end_at":        st.EndAt.Format(time.RFC3339),
			"mq_stopped":    st.MQStopped,
			"mq_errors":     st.MQErrors,
			"store_closed":  st.StoreClosed,
			"server_closed": st.ServerClosed,
			"duration":      st.Duration.String(),
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
