package scribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/bosley/voxnote/analysis"
	"github.com/bosley/voxnote/audio"
	"github.com/bosley/voxnote/auth"
	"github.com/bosley/voxnote/pipeline"
	"github.com/bosley/voxnote/store"
	"github.com/gorilla/mux"
)

const (
	maxTriggerBody  = 1 << 20
	maxUploadSize   = 200 << 20
	multipartMemory = 32 << 20
)

// Handler returns the HTTP API.
func (s *Scribe) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.config.Verifier.Middleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/process-recording", s.handleProcessRecording).Methods(http.MethodPost)
	api.HandleFunc("/recordings", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/recordings", s.handleListRecordings).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}", s.handleGetRecording).Methods(http.MethodGet)

	router.HandleFunc("/ws/{userID}", s.handleWebSocket)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return router
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleProcessRecording runs the analysis job for one recording and
// answers once it has reached a terminal status.
func (s *Scribe) handleProcessRecording(w http.ResponseWriter, r *http.Request) {
	var job pipeline.Job
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTriggerBody)).Decode(&job); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(job); err != nil {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	caller, ok := auth.IdentityFrom(r.Context())
	if !ok || caller != job.OwnerID {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	job.RequestedBy = caller

	// A client that disconnects does not cancel a started job.
	result, err := s.analyzer.Process(context.WithoutCancel(r.Context()), job)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, processResponse{Success: true, Data: result})
	case errors.Is(err, analysis.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, analysis.ErrRetrieval):
		writeError(w, http.StatusInternalServerError, "Failed to download audio")
	default:
		slog.Error("Error processing recording", "error", err, "recordingID", job.RecordingID)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Scribe) handleUpload(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing audio file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read audio file")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = audio.MIMEFromPath(header.Filename)
	}

	rec, err := s.pipeline.Upload(r.Context(), audio.NewArtifact(data, mimeType, 0), caller, r.FormValue("title"), nil)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidUpload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Scribe) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	recs, err := s.config.Store.ListRecordings(r.Context(), caller)
	if err != nil {
		slog.Error("Failed to list recordings", "error", err, "userID", caller)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Scribe) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	id := mux.Vars(r)["id"]

	rec, err := s.config.Store.GetRecording(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && rec.UserID != caller) {
		writeError(w, http.StatusNotFound, "Recording not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load recording", "error", err, "recordingID", id)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	detail := RecordingDetail{Recording: rec}
	tr, err := s.config.Store.GetTranscription(r.Context(), id)
	switch {
	case err == nil:
		detail.Transcription = tr
	case !errors.Is(err, store.ErrNotFound):
		slog.Error("Failed to load transcription", "error", err, "recordingID", id)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Scribe) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
