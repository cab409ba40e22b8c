package card

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zombor/cardsnap/internal/capture"
	"github.com/zombor/cardsnap/internal/contact"
	"github.com/zombor/cardsnap/internal/scanning"
	"github.com/zombor/cardsnap/internal/vcard"
)

// maxUploadSize bounds uploaded card photos; high-resolution phone photos
// and HEIC files fit comfortably
const maxUploadSize = int64(50 << 20)

// notice is a user-visible, dismissible notification
type notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// captureResponse is returned after a successful capture
type captureResponse struct {
	Notice  notice `json:"notice"`
	Session State  `json:"session"`
}

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Fallback string `json:"fallback,omitempty"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// classify maps pipeline errors onto a status code and notification
func classify(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error(), Title: "Parsing Error"}
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, ErrSessionNotFound):
		code, resp.Kind, resp.Title = http.StatusNotFound, "not_found", "Session Not Found"
	case errors.Is(err, ErrBusy):
		code, resp.Kind = http.StatusConflict, "busy"
	case errors.Is(err, ErrCanceled):
		code, resp.Kind, resp.Title = http.StatusConflict, "canceled", "Extraction Canceled"
	case errors.Is(err, ErrClosed):
		code, resp.Kind, resp.Title = http.StatusGone, "closed", "Session Closed"
	case errors.Is(err, capture.ErrDeviceUnavailable):
		code, resp.Kind, resp.Title = http.StatusServiceUnavailable, "device_unavailable", "Camera Unavailable"
		resp.Error = "Camera access denied or no camera found. Upload a photo of the card instead."
		resp.Fallback = "upload"
	case errors.Is(err, capture.ErrDecode):
		code, resp.Kind, resp.Title = http.StatusBadRequest, "decode_error", "Unreadable Image"
	case errors.Is(err, scanning.ErrSchemaMismatch):
		code, resp.Kind = http.StatusBadGateway, "schema_mismatch"
	case errors.Is(err, contact.ErrInvalidExtractionResult):
		code, resp.Kind = http.StatusBadGateway, "invalid_extraction_result"
	case errors.Is(err, scanning.ErrExtractionFailed):
		code, resp.Kind = http.StatusBadGateway, "extraction_failed"
	case errors.Is(err, contact.ErrUnknownField):
		code, resp.Kind, resp.Title = http.StatusBadRequest, "unknown_field", "Invalid Edit"
	case errors.Is(err, vcard.ErrSerialization):
		code, resp.Kind, resp.Title = http.StatusInternalServerError, "serialization_error", "Export Failed"
	default:
		resp.Kind, resp.Title = "internal", "Internal Error"
		resp.Error = "Internal server error"
	}
	return code, resp
}

// writeError writes a classified error response with CORS headers set
func writeError(w http.ResponseWriter, err error) {
	code, resp := classify(err)
	setCORSHeaders(w)
	writeJSON(w, code, resp)
}

// session resolves the {id} path value, writing a 404 when unknown
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	session, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return session, true
}

// handleCreateSession starts a session and requests the camera
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session := s.service.CreateSession(r.Context())
	writeJSON(w, http.StatusCreated, session.State())
}

// handleGetSession returns the session state and contact
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.State())
}

// handleDeleteSession closes a session and releases its camera
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CloseSession(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCapture takes a still from the camera and extracts it
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	if _, err := session.CaptureCamera(r.Context()); err != nil {
		slog.Error("Error capturing from camera", "session", session.ID(), "error", err)
		writeError(w, err)
		return
	}
	s.writeCaptured(w, session)
}

// handleUpload handles the file-input fallback
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		s.handleUploadDataURI(w, r, session)
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: errorMsg, Kind: "bad_request", Title: "Upload Failed"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "No file was selected. Please choose a photo of the card.",
			Kind:  "bad_request",
			Title: "Upload Failed",
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, err)
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = capture.ContentTypeFor(header.Filename)
	}

	if _, err := session.CaptureFile(r.Context(), data, contentType); err != nil {
		slog.Error("Error processing card photo",
			"session", session.ID(),
			"filename", header.Filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		writeError(w, err)
		return
	}
	s.writeCaptured(w, session)
}

// handleUploadDataURI accepts {"photoUrl": "data:image/<subtype>;base64,..."}
func (s *Server) handleUploadDataURI(w http.ResponseWriter, r *http.Request, session *Session) {
	var req scanning.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "Request body must be a JSON object with a photoUrl",
			Kind:  "bad_request",
			Title: "Upload Failed",
		})
		return
	}

	img, err := capture.ParseDataURI(req.PhotoURL)
	if err != nil {
		writeError(w, err)
		return
	}

	// the payload is only base64-decoded so far; decode it like an uploaded file
	if _, err := session.CaptureFile(r.Context(), img.Data, img.MIMEType()); err != nil {
		slog.Error("Error processing card photo", "session", session.ID(), "subtype", img.Subtype, "error", err)
		writeError(w, err)
		return
	}
	s.writeCaptured(w, session)
}

func (s *Server) writeCaptured(w http.ResponseWriter, session *Session) {
	writeJSON(w, http.StatusOK, captureResponse{
		Notice: notice{
			Title:   "Details Parsed",
			Message: "Contact details extracted successfully.",
		},
		Session: session.State(),
	})
}

// handleCancelExtraction cancels the in-flight extraction
func (s *Server) handleCancelExtraction(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": session.Cancel()})
}

// handleEditContact applies field edits given as a JSON object
func (s *Server) handleEditContact(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	var edits map[string]string
	if err := json.NewDecoder(r.Body).Decode(&edits); err != nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "Request body must be a JSON object of field names to strings",
			Kind:  "bad_request",
			Title: "Invalid Edit",
		})
		return
	}

	// reject the whole edit if any field is unknown
	for name := range edits {
		if _, known := (contact.Record{}).Get(contact.Field(name)); !known {
			writeError(w, contact.ErrUnknownField)
			return
		}
	}
	for name, value := range edits {
		if err := session.Edit(contact.Field(name), value); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, session.State())
}

// handleExportVCard downloads the contact as contact.vcf
func (s *Server) handleExportVCard(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	doc, err := session.Export()
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", doc.ContentType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	io.WriteString(w, doc.Body)
}

// handleGetPhoto returns the captured card photo
func (s *Server) handleGetPhoto(w http.ResponseWriter, r *http.Request) {
	session, ok := s.session(w, r)
	if !ok {
		return
	}

	photo := session.Contact().Photo
	if photo == nil {
		setCORSHeaders(w)
		http.Error(w, "No photo captured", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", photo.MIMEType())
	w.Write(photo.Data)
}
