// file_handlers.go - Upload, download and delete routes.
package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"ztransfer/internal/upload"
)

// multipartSlack is extra room on top of the upload limit for multipart
// boundaries and part headers.
const multipartSlack = 1 << 20

// handleUpload accepts one multipart file part and stores it for the
// authenticated user.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.currentUser(r)
	if err != nil {
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "session_resolve_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}
	if user == nil {
		writeDetail(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	// Transport-level backstop; the store enforces the exact limit on the
	// decoded stream.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSizeBytes+multipartSlack)

	mr, err := r.MultipartReader()
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Expected multipart/form-data body")
		return
	}

	part, err := nextFilePart(mr)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Missing file part")
		return
	}
	defer part.Close()

	up, downloadToken, deleteToken, err := s.cfg.Uploads.StoreUpload(
		r.Context(), *user, part, part.FileName(), part.Header.Get("Content-Type"))
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		writeDetail(w, http.StatusRequestEntityTooLarge, "File exceeds the maximum allowed size")
		return
	case err != nil:
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "File exceeds the maximum allowed size")
			return
		}
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "store_upload_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"original_name": up.OriginalName,
		"size_bytes":    up.SizeBytes,
		"sha256":        up.SHA256,
		"expires_at":    up.ExpiresAt,
		"download_url":  s.cfg.BaseURL + "/d/" + downloadToken,
		"delete_url":    fmt.Sprintf("%s/files/%s?delete_token=%s", s.cfg.BaseURL, downloadToken, deleteToken),
	})
}

// nextFilePart scans the multipart stream for the "file" form field.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// handleDownload streams a stored file by its capability token. No session
// is required; the token is the credential.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/d/")
	if token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}

	up, err := s.cfg.Uploads.ResolveDownload(r.Context(), token)
	switch {
	case errors.Is(err, upload.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Not found")
		return
	case errors.Is(err, upload.ErrExpired):
		writeDetail(w, http.StatusGone, "This file has expired")
		return
	case err != nil:
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "resolve_download_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}

	rc, err := s.cfg.Uploads.Open(r.Context(), up)
	if err != nil {
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "open_upload_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", up.ContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", up.SizeBytes))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", up.OriginalName))
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		// Client likely went away mid-stream; headers are already out.
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "download_stream_failed", err)
	}
}

// handleDeleteUpload removes a file when the caller presents the matching
// delete token. Works on expired uploads too, ahead of the sweep.
func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.URL.Path, "/files/")
	if token == "" || strings.Contains(token, "/") {
		http.NotFound(w, r)
		return
	}
	deleteToken := r.URL.Query().Get("delete_token")
	if deleteToken == "" {
		writeDetail(w, http.StatusForbidden, "Invalid delete token")
		return
	}

	err := s.cfg.Uploads.DeleteByToken(r.Context(), token, deleteToken)
	switch {
	case errors.Is(err, upload.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Not found")
		return
	case errors.Is(err, upload.ErrDeleteTokenMismatch):
		writeDetail(w, http.StatusForbidden, "Invalid delete token")
		return
	case err != nil:
		log.Printf("rid=%s msg=%q err=%v", RequestIDFromContext(r.Context()), "delete_upload_failed", err)
		writeDetail(w, http.StatusInternalServerError, "Server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
