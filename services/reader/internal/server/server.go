package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"studyreader/internal/util"
	"studyreader/pkg/document"
	"studyreader/pkg/domain"
	"studyreader/pkg/library"
	"studyreader/pkg/store"
	"studyreader/services/reader/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	MaxUploadBytes int64
	CORSOrigins    []string
}

// Server exposes the reader REST API used by the browser UI.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	maxUploadBytes int64
	corsOrigins    []string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
		corsOrigins:    cfg.CORSOrigins,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("reader", util.WithSecurityHeaders(nil, util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// books
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBookByID)

	// study records
	s.mux.HandleFunc("/api/highlights", s.handleHighlights)
	s.mux.HandleFunc("/api/highlights/", s.handleHighlightByID)
	s.mux.HandleFunc("/api/flashcards", s.handleFlashcards)
	s.mux.HandleFunc("/api/quiz-scores", s.handleQuizScores)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	s.mux.HandleFunc("/api/current-book", s.handleCurrentBook)

	// assistant
	s.mux.HandleFunc("/api/ai/status", s.handleAIStatus)
	s.mux.HandleFunc("/api/ai/", s.handleAI)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	kind, fallback := s.app.StoreStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"store":    kind,
		"fallback": fallback,
	})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUploadBook(w, r)
	case http.MethodGet:
		books, err := s.app.Library().ListBooks(r.Context())
		writeList(w, r, books, err)
	default:
		methodNotAllowed(w)
	}
}

// /api/books/{id} or /api/books/{id}/{file,download,text,progress}
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(path, "/", 2)
	id, ok := parseID(parts[0])
	if !ok {
		notFound(w, "book not found")
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "file":
			s.handleBookFile(w, r, id)
		case "download":
			s.handleDownloadBook(w, r, id)
		case "text":
			s.handleBookText(w, r, id)
		case "progress":
			s.handleProgress(w, r, id)
		default:
			notFound(w, "not found")
		}
		return
	}

	lib := s.app.Library()
	book, found, err := lib.GetBook(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if !found {
		notFound(w, "book not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, book)
	case http.MethodPatch:
		var req bookPatchRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.touchesProgress() {
			writeError(w, http.StatusBadRequest, "progress is recorded through /api/books/{id}/progress")
			return
		}
		patch := req.BookPatch
		if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		books, err := lib.UpdateBook(r.Context(), id, patch)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		for _, b := range books {
			if b.ID == id {
				book = b
				break
			}
		}
		writeJSON(w, http.StatusOK, book)
	case http.MethodDelete:
		if _, err := lib.DeleteBook(r.Context(), id); err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUploadBook(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	book, err := s.app.UploadBook(r.Context(), header.Filename, data)
	var parseErr *document.ParseError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, book)
	case errors.Is(err, document.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type: only PDF and EPUB are accepted")
	case errors.As(err, &parseErr):
		writeError(w, http.StatusUnprocessableEntity, "failed to read book: "+parseErr.Err.Error())
	case errors.Is(err, library.ErrInvalidBook):
		writeError(w, http.StatusBadRequest, err.Error())
	case book.ID != 0:
		util.LoggerFromContext(r.Context()).Error("book saved without file", "book_id", book.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to store book file")
	default:
		writeStoreError(w, r, err)
	}
}

func (s *Server) handleBookFile(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	book, data, err := s.app.BookFile(r.Context(), id)
	if err != nil {
		writeBookError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", app.ContentType(book.Format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": app.Filename(book)}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleDownloadBook returns a pre-signed download URL for the book file.
func (s *Server) handleDownloadBook(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, filename, err := s.app.DownloadURL(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNoObjectStore) {
			writeError(w, http.StatusServiceUnavailable, "object storage not configured")
			return
		}
		if errors.Is(err, library.ErrBookNotFound) {
			notFound(w, "book not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to generate download URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":      url,
		"filename": filename,
	})
}

func (s *Server) handleBookText(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	page := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = n
	}
	text, err := s.app.BookText(r.Context(), id, page)
	if err != nil {
		writeBookError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bookId": id,
		"page":   page,
		"text":   text,
	})
}

// bookPatchRequest names the progress fields only to refuse them; the
// progress record owns those values.
type bookPatchRequest struct {
	library.BookPatch
	Progress json.RawMessage `json:"progress,omitempty"`
	LastPage json.RawMessage `json:"lastPage,omitempty"`
}

func (r bookPatchRequest) touchesProgress() bool {
	present := func(raw json.RawMessage) bool { return len(raw) > 0 && string(raw) != "null" }
	return present(r.Progress) || present(r.LastPage)
}

type progressRequest struct {
	Percentage  *float64 `json:"percentage" validate:"required"`
	CurrentPage int      `json:"currentPage" validate:"gte=0"`
	TotalPages  int      `json:"totalPages" validate:"gte=0"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request, id int64) {
	lib := s.app.Library()
	switch r.Method {
	case http.MethodGet:
		rec, ok, err := lib.GetProgress(r.Context(), id)
		if err != nil && !errors.Is(err, store.ErrOperationFailed) {
			writeStoreError(w, r, err)
			return
		}
		if !ok {
			notFound(w, "progress not found")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		var req progressRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if _, ok, err := lib.GetBook(r.Context(), id); err != nil {
			writeStoreError(w, r, err)
			return
		} else if !ok {
			notFound(w, "book not found")
			return
		}
		rec, err := lib.RecordProgress(r.Context(), id, *req.Percentage, req.CurrentPage, req.TotalPages)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	default:
		methodNotAllowed(w)
	}
}

type highlightRequest struct {
	BookID    int64  `json:"bookId" validate:"gt=0"`
	BookTitle string `json:"bookTitle"`
	Text      string `json:"text" validate:"required"`
}

func (s *Server) handleHighlights(w http.ResponseWriter, r *http.Request) {
	lib := s.app.Library()
	switch r.Method {
	case http.MethodGet:
		bookID, hasBook, ok := bookIDQuery(w, r)
		if !ok {
			return
		}
		var (
			items []domain.Highlight
			err   error
		)
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		switch {
		case q != "":
			items, err = lib.SearchHighlights(r.Context(), q)
			if hasBook {
				items = filterByBook(items, bookID)
			}
		case hasBook:
			items, err = lib.HighlightsByBook(r.Context(), bookID)
		default:
			items, err = lib.ListHighlights(r.Context())
		}
		writeList(w, r, items, err)
	case http.MethodPost:
		var req highlightRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		items, err := lib.AddHighlight(r.Context(), domain.Highlight{BookID: req.BookID, BookTitle: req.BookTitle, Text: req.Text})
		if err != nil {
			if errors.Is(err, library.ErrEmptyText) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, items[len(items)-1])
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleHighlightByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(strings.TrimPrefix(r.URL.Path, "/api/highlights/"))
	if !ok {
		notFound(w, "highlight not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if _, err := s.app.Library().DeleteHighlight(r.Context(), id); err != nil {
		if errors.Is(err, library.ErrHighlightNotFound) {
			notFound(w, "highlight not found")
			return
		}
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type flashcardRequest struct {
	BookID int64  `json:"bookId" validate:"gte=0"`
	Front  string `json:"front" validate:"required"`
	Back   string `json:"back" validate:"required"`
}

func (s *Server) handleFlashcards(w http.ResponseWriter, r *http.Request) {
	lib := s.app.Library()
	switch r.Method {
	case http.MethodGet:
		bookID, hasBook, ok := bookIDQuery(w, r)
		if !ok {
			return
		}
		if hasBook {
			items, err := lib.FlashcardsByBook(r.Context(), bookID)
			writeList(w, r, items, err)
			return
		}
		items, err := lib.ListFlashcards(r.Context())
		writeList(w, r, items, err)
	case http.MethodPost:
		var req flashcardRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		items, err := lib.AddFlashcard(r.Context(), domain.Flashcard{BookID: req.BookID, Front: req.Front, Back: req.Back})
		if err != nil {
			if errors.Is(err, library.ErrEmptyCard) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, items[len(items)-1])
	default:
		methodNotAllowed(w)
	}
}

type quizScoreRequest struct {
	Percentage *float64 `json:"percentage" validate:"required"`
}

func (s *Server) handleQuizScores(w http.ResponseWriter, r *http.Request) {
	lib := s.app.Library()
	switch r.Method {
	case http.MethodGet:
		items, err := lib.ListQuizScores(r.Context())
		writeList(w, r, items, err)
	case http.MethodPost:
		var req quizScoreRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		items, err := lib.AddQuizScore(r.Context(), *req.Percentage)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, items[len(items)-1])
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	st, err := s.app.Stats(r.Context())
	if err != nil {
		if !errors.Is(err, store.ErrOperationFailed) {
			writeStoreError(w, r, err)
			return
		}
		util.LoggerFromContext(r.Context()).Warn("stats read failed, serving zeros", "err", err)
		st = domain.StudyStats{}
	}
	writeJSON(w, http.StatusOK, st)
}

type settingsRequest struct {
	Theme      string  `json:"theme" validate:"required"`
	FontSize   int     `json:"fontSize" validate:"gt=0"`
	FontFamily string  `json:"fontFamily" validate:"required"`
	LineHeight float64 `json:"lineHeight" validate:"gt=0"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	lib := s.app.Library()
	switch r.Method {
	case http.MethodGet:
		settings, err := lib.Settings(r.Context())
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("settings read failed, serving defaults", "err", err)
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req settingsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		settings := domain.Settings(req)
		if err := lib.SaveSettings(r.Context(), settings); err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		methodNotAllowed(w)
	}
}

type currentBookRequest struct {
	BookID int64 `json:"bookId" validate:"gte=0"`
}

type currentBookResponse struct {
	BookID *int64 `json:"bookId"`
}

func (s *Server) handleCurrentBook(w http.ResponseWriter, r *http.Request) {
	lib := s.app.Library()
	switch r.Method {
	case http.MethodGet:
		id, ok, err := lib.CurrentBookID(r.Context())
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("current book read failed", "err", err)
		}
		resp := currentBookResponse{}
		if ok {
			resp.BookID = &id
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPut:
		var req currentBookRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.BookID != 0 {
			if _, ok, err := lib.GetBook(r.Context(), req.BookID); err != nil {
				writeStoreError(w, r, err)
				return
			} else if !ok {
				notFound(w, "book not found")
				return
			}
		}
		if err := lib.SetCurrentBookID(r.Context(), req.BookID); err != nil {
			writeStoreError(w, r, err)
			return
		}
		resp := currentBookResponse{}
		if req.BookID != 0 {
			resp.BookID = &req.BookID
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAIStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.app.Assistant().CheckStatus(r.Context()))
}

type aiTextRequest struct {
	Text    string `json:"text" validate:"required"`
	Context string `json:"context"`
}

type aiGenerateRequest struct {
	Text   string `json:"text" validate:"required"`
	Count  int    `json:"count" validate:"gte=0,lte=20"`
	BookID int64  `json:"bookId" validate:"gte=0"`
	Save   bool   `json:"save"`
}

// /api/ai/{explain,solve,flashcards,quiz}
func (s *Server) handleAI(w http.ResponseWriter, r *http.Request) {
	op := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/ai/"), "/")
	switch op {
	case "explain", "solve", "flashcards", "quiz":
	default:
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	helper := s.app.Assistant()
	switch op {
	case "explain", "solve":
		var req aiTextRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if op == "explain" {
			writeJSON(w, http.StatusOK, map[string]string{"explanation": helper.Explain(r.Context(), req.Text, req.Context)})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"solution": helper.Solve(r.Context(), req.Text, req.Context)})
	case "flashcards":
		var req aiGenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cards, err := s.app.GenerateFlashcards(r.Context(), req.BookID, req.Text, req.Count, req.Save)
		if err != nil {
			writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": cards,
			"count": len(cards),
			"saved": req.Save,
		})
	case "quiz":
		var req aiGenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		questions := helper.GenerateQuiz(r.Context(), req.Text, req.Count)
		writeJSON(w, http.StatusOK, map[string]any{
			"items": questions,
			"count": len(questions),
		})
	}
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// bookIDQuery reads the optional ?bookId= filter. It writes the error
// response itself when the value is malformed.
func bookIDQuery(w http.ResponseWriter, r *http.Request) (int64, bool, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("bookId"))
	if raw == "" {
		return 0, false, true
	}
	id, ok := parseID(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bookId")
		return 0, false, false
	}
	return id, true, true
}

func filterByBook(items []domain.Highlight, bookID int64) []domain.Highlight {
	out := make([]domain.Highlight, 0, len(items))
	for _, h := range items {
		if h.BookID == bookID {
			out = append(out, h)
		}
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return fmt.Sprintf("invalid field %s (%s)", verrs[0].Field(), verrs[0].Tag())
	}
	return "invalid request"
}

// writeList answers a collection read. Storage failures degrade to an empty
// list so the UI keeps working.
func writeList[T any](w http.ResponseWriter, r *http.Request, items []T, err error) {
	if err != nil {
		if !errors.Is(err, store.ErrOperationFailed) {
			writeStoreError(w, r, err)
			return
		}
		util.LoggerFromContext(r.Context()).Warn("read failed, serving empty list", "path", r.URL.Path, "err", err)
		items = nil
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func writeBookError(w http.ResponseWriter, r *http.Request, err error) {
	var parseErr *document.ParseError
	switch {
	case errors.Is(err, library.ErrBookNotFound):
		notFound(w, "book not found")
	case errors.Is(err, app.ErrFileMissing):
		notFound(w, "book file missing")
	case errors.Is(err, document.ErrPageOutOfRange):
		writeError(w, http.StatusBadRequest, "page out of range")
	case errors.Is(err, document.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type: only PDF and EPUB are accepted")
	case errors.As(err, &parseErr):
		writeError(w, http.StatusUnprocessableEntity, "failed to read book: "+parseErr.Err.Error())
	default:
		writeStoreError(w, r, err)
	}
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForReader(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForReader(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "book not found":
		return "BOOK_NOT_FOUND"
	case message == "book file missing":
		return "BOOK_FILE_MISSING"
	case message == "file too large":
		return "BOOK_FILE_TOO_LARGE"
	case message == "filename required", strings.Contains(message, "file is required"):
		return "BOOK_FILE_REQUIRED"
	case strings.Contains(message, "unsupported file type"):
		return "BOOK_UNSUPPORTED_FILE_TYPE"
	case strings.HasPrefix(message, "failed to read book"):
		return "BOOK_PARSE_FAILED"
	case message == "failed to store book file":
		return "BOOK_FILE_STORE_FAILED"
	case message == "invalid form data":
		return "BOOK_INVALID_UPLOAD_FORM"
	case message == "invalid page", message == "page out of range":
		return "BOOK_INVALID_PAGE"
	case message == "object storage not configured":
		return "BOOK_DOWNLOAD_UNAVAILABLE"
	case message == "failed to generate download url":
		return "BOOK_DOWNLOAD_URL_FAILED"
	case message == "progress not found":
		return "PROGRESS_NOT_FOUND"
	case message == "highlight not found":
		return "HIGHLIGHT_NOT_FOUND"
	case strings.HasPrefix(message, "invalid field"):
		return "REQUEST_INVALID_FIELD"
	case message == "invalid json body":
		return "REQUEST_INVALID_JSON"
	case message == "storage unavailable":
		return "SYSTEM_STORAGE_UNAVAILABLE"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
