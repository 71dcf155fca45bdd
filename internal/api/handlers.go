// Package api provides HTTP handlers for LoveBot endpoints.
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/LoveBot/internal/models"
)

// MaxImageUploadBytes bounds the accepted size of an uploaded corpus image.
const MaxImageUploadBytes = 10 << 20 // 10 MiB

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success("ok"))
}

// messagesHandler lists corpus messages (GET, filtered by ?category=) and
// adds new ones (POST).
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	switch r.Method {
	case http.MethodGet:
		s.listMessages(w, r)
	case http.MethodPost:
		s.addMessage(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		slog.Warn("Server.messagesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	category := models.Category(r.URL.Query().Get("category"))
	if category == "" {
		category = models.CategoryGeneral
	}
	if !models.IsValidCategory(category) {
		slog.Warn("Server.listMessages: invalid category", "category", category)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid category"))
		return
	}

	messages, err := s.st.FindMessages(category)
	if err != nil {
		slog.Error("Server.listMessages: store lookup failed", "error", err, "category", category)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(messages))
}

func (s *Server) addMessage(w http.ResponseWriter, r *http.Request) {
	var m models.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		slog.Warn("Server.addMessage: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if m.Category == "" {
		m.Category = models.CategoryGeneral
	}
	if err := m.Validate(); err != nil {
		slog.Warn("Server.addMessage: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if err := s.st.AddMessage(m); err != nil {
		slog.Error("Server.addMessage: store insert failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to add message"))
		return
	}
	slog.Info("Server.addMessage: corpus message added", "category", m.Category)
	writeJSONResponse(w, http.StatusCreated, models.Success(nil))
}

// imagesHandler accepts raw image bytes (POST) and stores them as a new
// corpus image.
func (s *Server) imagesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.imagesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	content, err := io.ReadAll(io.LimitReader(r.Body, MaxImageUploadBytes+1))
	if err != nil {
		slog.Warn("Server.imagesHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read image content"))
		return
	}
	if len(content) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Image content cannot be empty"))
		return
	}
	if len(content) > MaxImageUploadBytes {
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Image too large"))
		return
	}

	id, err := s.st.SaveImage(content)
	if err != nil {
		slog.Error("Server.imagesHandler: store insert failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save image"))
		return
	}
	slog.Info("Server.imagesHandler: corpus image added", "id", id, "size", len(content))
	writeJSONResponse(w, http.StatusCreated, models.Success(models.Image{ID: id}))
}

// imageContentHandler serves the raw content of a single image. This is also
// the media URL target handed to Twilio for photo sends.
func (s *Server) imageContentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/images/")
	if id == "" || strings.Contains(id, "/") {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid image ID"))
		return
	}

	image, err := s.st.GetImage(id)
	if err != nil {
		slog.Error("Server.imageContentHandler: store lookup failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load image"))
		return
	}
	if image == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Image not found"))
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(image.Content))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(image.Content); err != nil {
		slog.Error("Server.imageContentHandler: failed to write image", "error", err, "id", id)
	}
}
