package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrCodeEU/rollcall/pkg/camera"
	"github.com/MrCodeEU/rollcall/pkg/enrollment"
	"github.com/MrCodeEU/rollcall/pkg/export"
	"github.com/MrCodeEU/rollcall/pkg/ledger"
	"github.com/MrCodeEU/rollcall/pkg/logging"
	"github.com/MrCodeEU/rollcall/pkg/recognition"
	"github.com/MrCodeEU/rollcall/pkg/training"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pageTemplate = template.Must(template.New("attendance.html").Funcs(template.FuncMap{
	"clock": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Local().Format("15:04:05")
	},
}).ParseFS(templatesFS, "templates/attendance.html"))

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// dayParam reads ?date=YYYY-MM-DD, defaulting to today.
func (s *Server) dayParam(r *http.Request) (time.Time, error) {
	v := r.URL.Query().Get("date")
	if v == "" {
		return ledger.Day(s.opts.Now()), nil
	}
	d, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return d, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.opts.ModelLoaded != nil {
		resp["model_loaded"] = s.opts.ModelLoaded()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) videoFeed(w http.ResponseWriter, r *http.Request) {
	if s.opts.Stream == nil {
		respondError(w, http.StatusServiceUnavailable, "video feed not running")
		return
	}
	s.opts.Stream.ServeHTTP(w, r)
}

type attendanceResponse struct {
	Date    string       `json:"date"`
	Present int          `json:"present"`
	Total   int          `json:"total"`
	Rows    []ledger.Row `json:"rows"`
}

func (s *Server) attendance(r *http.Request) (attendanceResponse, int, error) {
	day, err := s.dayParam(r)
	if err != nil {
		return attendanceResponse{}, http.StatusBadRequest, err
	}
	rows, err := s.opts.Ledger.Day(r.Context(), day)
	if err != nil {
		return attendanceResponse{}, http.StatusInternalServerError, err
	}
	resp := attendanceResponse{Date: ledger.DayKey(day), Total: len(rows), Rows: rows}
	for _, row := range rows {
		if row.Status == ledger.StatusPresent {
			resp.Present++
		}
	}
	return resp, http.StatusOK, nil
}

func (s *Server) listAttendance(w http.ResponseWriter, r *http.Request) {
	resp, status, err := s.attendance(r)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) attendancePage(w http.ResponseWriter, r *http.Request) {
	resp, status, err := s.attendance(r)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, resp); err != nil {
		logging.Component("web").WithError(err).Error("Failed to render attendance page")
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) exportAttendance(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := s.opts.Ledger.Day(r.Context(), day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, day, rows); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	// today's export is stamped with the current time, other days with the day itself
	stamp := day
	if now := s.opts.Now(); ledger.DayKey(now) == ledger.DayKey(day) {
		stamp = now
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(stamp)))
	w.Write(buf.Bytes())
}

func (s *Server) listIdentities(w http.ResponseWriter, r *http.Request) {
	ids, err := s.opts.Ledger.ListIdentities(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ids)
}

func (s *Server) reloadModel(w http.ResponseWriter, r *http.Request) {
	if s.opts.ReloadModel == nil {
		respondError(w, http.StatusServiceUnavailable, "recognition not running")
		return
	}
	if err := s.opts.ReloadModel(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, recognition.ErrModelNotLoaded) {
			status = http.StatusConflict
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) trainModel(w http.ResponseWriter, r *http.Request) {
	if s.opts.TrainModel == nil {
		respondError(w, http.StatusServiceUnavailable, "training not available")
		return
	}
	sum, err := s.opts.TrainModel(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, training.ErrNoTrainingData) {
			status = http.StatusConflict
		}
		respondError(w, status, err.Error())
		return
	}

	resp := map[string]any{
		"status":      "trained",
		"samples":     sum.Samples,
		"identities":  len(sum.Identities),
		"model_path":  sum.ModelPath,
		"duration_ms": sum.Duration.Milliseconds(),
	}
	if s.opts.ReloadModel != nil {
		if err := s.opts.ReloadModel(); err != nil {
			logging.Component("web").WithError(err).Error("Model trained but reload failed")
			respondError(w, http.StatusInternalServerError, "model trained but reload failed: "+err.Error())
			return
		}
		resp["status"] = "reloaded"
	}
	respondJSON(w, http.StatusOK, resp)
}

// enrollIdentity captures samples for one identity. It never waits for the
// camera: while recognition holds it the request fails with 409.
func (s *Server) enrollIdentity(w http.ResponseWriter, r *http.Request) {
	if s.opts.Enroll == nil {
		respondError(w, http.StatusServiceUnavailable, "enrollment not available")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid identity id")
		return
	}
	count := 0
	if v := r.URL.Query().Get("count"); v != "" {
		if count, err = strconv.Atoi(v); err != nil || count < 1 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid count %q", v))
			return
		}
	}

	res, err := s.opts.Enroll(r.Context(), id, count)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ledger.ErrUnknownIdentity):
			status = http.StatusNotFound
		case errors.Is(err, camera.ErrDeviceBusy):
			status = http.StatusConflict
		case errors.Is(err, enrollment.ErrInvalidTarget):
			status = http.StatusBadRequest
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"identity_id": res.IdentityID,
		"name":        res.Name,
		"saved":       res.Saved,
		"total":       res.Total,
		"cancelled":   res.Cancelled,
	})
}

func (s *Server) resetAttendance(w http.ResponseWriter, r *http.Request) {
	day, err := s.dayParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.opts.Ledger.ResetDay(r.Context(), day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"date": ledger.DayKey(day), "records": n})
}
