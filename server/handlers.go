package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/dhcgn/mail-scrub/extract"
	"github.com/dhcgn/mail-scrub/model"
)

const downloadName = "merged_emails.txt"

type connectRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type extractRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Label    string   `json:"label"`
	Start    looseInt `json:"start"`
	Count    looseInt `json:"count"`
}

type labelInfo struct {
	Name  string `json:"name"`
	Count uint32 `json:"count"`
}

type connectResponse struct {
	Success bool        `json:"success"`
	Labels  []labelInfo `json:"labels"`
}

type extractResponse struct {
	Success   bool   `json:"success"`
	Extracted int    `json:"extracted"`
	Skipped   int    `json:"skipped"`
	Total     int    `json:"total"`
	Content   string `json:"content"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type healthResponse struct {
	Status     string `json:"status"`
	Extracting bool   `json:"extracting"`
}

// looseInt accepts a JSON number or a numeric string. Anything else decodes
// to zero, which the extraction window treats as unset.
type looseInt int

func (n *looseInt) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}

	end := 0
	if end < len(text) && (text[end] == '-' || text[end] == '+') {
		end++
	}
	for end < len(text) && text[end] >= '0' && text[end] <= '9' {
		end++
	}

	v, err := strconv.Atoi(text[:end])
	if err != nil {
		*n = 0
		return nil
	}
	*n = looseInt(v)
	return nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		s.writeFailure(w, http.StatusOK, "Email and password are required")
		return
	}

	mailboxes, err := s.extractor.Mailboxes(r.Context(), model.Credentials{Username: req.Email, Password: req.Password})
	if err != nil {
		s.requestLogger(r).Warn("listing labels failed", "err", err)
		s.writeFailure(w, http.StatusOK, err.Error())
		return
	}

	labels := make([]labelInfo, 0, len(mailboxes))
	for _, mb := range mailboxes {
		labels = append(labels, labelInfo{Name: mb.Name, Count: mb.Messages})
	}
	s.writeJSON(w, http.StatusOK, connectResponse{Success: true, Labels: labels})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" || strings.TrimSpace(req.Label) == "" {
		s.writeFailure(w, http.StatusOK, "Email, password, and label are required")
		return
	}

	if !s.extractMu.TryLock() {
		s.writeFailure(w, http.StatusConflict, "extraction already in progress")
		return
	}
	defer s.extractMu.Unlock()
	s.extracting.Store(true)
	defer s.extracting.Store(false)

	result, err := s.extractor.Extract(r.Context(), extract.Request{
		Credentials: model.Credentials{Username: req.Email, Password: req.Password},
		Mailbox:     req.Label,
		Window:      model.Window{Start: int(req.Start), Count: int(req.Count)},
	})
	if err != nil {
		s.writeFailure(w, http.StatusOK, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, extractResponse{
		Success:   true,
		Extracted: result.Extracted,
		Skipped:   result.Skipped,
		Total:     result.Total,
		Content:   result.Content,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path := s.extractor.OutputPath()
	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.requestLogger(r).Error("opening merged output", "path", path, "err", err)
		}
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil || info.IsDir() {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+downloadName+`"`)
	http.ServeContent(w, r, downloadName, info.ModTime(), file)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Extracting: s.extracting.Load()})
}

// decode reads a size-limited JSON body into dst. It writes the error
// response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeFailure(w, http.StatusRequestEntityTooLarge, "request entity too large")
			return false
		}
		s.writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encoding JSON response", "err", err)
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: message})
}
