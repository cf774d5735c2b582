package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ahmadiii429861-dot/ahm-ai/internal/core"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/store"
	"github.com/ahmadiii429861-dot/ahm-ai/internal/utils"
	"github.com/ahmadiii429861-dot/ahm-ai/pkg/logger"
)

// DefaultMaxPictureBytes caps profile picture uploads.
const DefaultMaxPictureBytes = 1 << 20

type APIHandler struct {
	app             *core.App
	logger          *logger.Logger
	maxPictureBytes int64
}

func NewAPIHandler(app *core.App, log *logger.Logger) *APIHandler {
	if log == nil {
		log = logger.Global()
	}
	return &APIHandler{app: app, logger: log, maxPictureBytes: DefaultMaxPictureBytes}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrLoginRequired):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRequestInFlight), errors.Is(err, core.ErrUsernameTaken),
		errors.Is(err, core.ErrDuplicateSession):
		return http.StatusConflict
	case errors.Is(err, core.ErrSendDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrEmptyMessage), errors.Is(err, core.ErrInvalidTitle),
		errors.Is(err, core.ErrInvalidSettings), errors.Is(err, core.ErrInvalidUsername),
		errors.Is(err, core.ErrInvalidShare):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.WithContext(CorrelationID(r.Context()), h.app.CurrentUser().ID).
			Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"send":   !h.app.Status().SendDisabled,
	})
}

// Bootstrap is the first call of the UI. A valid ?chat= blob switches to the
// read-only shared view; anything else falls through to the normal app.
func (h *APIHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	if blob := r.URL.Query().Get(core.ShareParam); blob != "" {
		chat, err := core.DecodeShare(blob)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"mode": "shared", "shared": chat})
			return
		}
		h.logger.Debug("ignoring undecodable share link", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": "app", "state": h.app.State()})
}

func (h *APIHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.State())
}

func (h *APIHandler) Shared(w http.ResponseWriter, r *http.Request) {
	chat, err := core.DecodeShare(r.URL.Query().Get(core.ShareParam))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

type LoginRequest struct {
	Username   string `json:"username"`
	IsVerified bool   `json:"isVerified"`
}

type LoginResponse struct {
	User    store.UserProfile `json:"user"`
	Created bool              `json:"created"`
	State   core.State        `json:"state"`
}

func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, created, err := h.app.Login(req.Username, req.IsVerified)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, LoginResponse{User: user, Created: created, State: h.app.State()})
}

func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.app.Logout()
	writeJSON(w, http.StatusOK, h.app.State())
}

type ProfileRequest struct {
	Username   string `json:"username"`
	IsVerified bool   `json:"isVerified"`
}

func (h *APIHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	profile, err := h.app.UpdateProfile(req.Username, req.IsVerified)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UploadProfilePicture accepts a multipart "picture" image and stores it on
// the current profile as a data URL.
func (h *APIHandler) UploadProfilePicture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPictureBytes+64<<10)
	file, _, err := r.FormFile("picture")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid picture upload: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxPictureBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read picture: "+err.Error())
		return
	}
	if int64(len(data)) > h.maxPictureBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "Picture is too large")
		return
	}
	contentType := http.DetectContentType(data)
	if !utils.IsImageContentType(contentType) {
		writeError(w, http.StatusUnsupportedMediaType, "Picture must be an image, got "+contentType)
		return
	}

	profile, err := h.app.SetProfilePicture(utils.DataURL(contentType, data))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *APIHandler) DeleteProfilePicture(w http.ResponseWriter, r *http.Request) {
	profile, err := h.app.SetProfilePicture("")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *APIHandler) Users(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Directory())
}

func (h *APIHandler) UserSession(w http.ResponseWriter, r *http.Request) {
	chat, err := h.app.PublicSession(chi.URLParam(r, "userID"), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *APIHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Settings())
}

func (h *APIHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req store.AISettings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	settings, err := h.app.UpdateGlobalSettings(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

type ShowArchivedRequest struct {
	Show bool `json:"show"`
}

func (h *APIHandler) PutArchived(w http.ResponseWriter, r *http.Request) {
	var req ShowArchivedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	h.app.SetShowArchived(req.Show)
	writeJSON(w, http.StatusOK, h.app.State())
}

func (h *APIHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.NewChat()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *APIHandler) SelectSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.SelectSession(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type PatchSessionRequest struct {
	Title    *string `json:"title,omitempty"`
	IsPublic *bool   `json:"isPublic,omitempty"`
}

func (h *APIHandler) PatchSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req PatchSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title == nil && req.IsPublic == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update")
		return
	}

	var (
		sess store.Session
		err  error
	)
	if req.Title != nil {
		if sess, err = h.app.Rename(id, *req.Title); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.IsPublic != nil {
		if sess, err = h.app.SetPublic(id, *req.IsPublic); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *APIHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.app.DeleteSession(chi.URLParam(r, "sessionID")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.State())
}

func (h *APIHandler) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	if _, err := h.app.ToggleArchive(chi.URLParam(r, "sessionID")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.app.State())
}

func (h *APIHandler) PublicSessionToggle(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.TogglePublic(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *APIHandler) PutSessionSettings(w http.ResponseWriter, r *http.Request) {
	var req store.AISettings
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	sess, err := h.app.UpdateSessionSettings(chi.URLParam(r, "sessionID"), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type PostMessageRequest struct {
	Text string `json:"text"`
}

type PostMessageResponse struct {
	Reply   store.Message `json:"reply"`
	Session store.Session `json:"session"`
}

func (h *APIHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req PostMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	reply, err := h.app.Send(r.Context(), id, req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// The session may already be gone if it was deleted mid-request.
	resp := PostMessageResponse{Reply: reply}
	if sess, err := h.app.Session(id); err == nil {
		resp.Session = sess
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) ShareSession(w http.ResponseWriter, r *http.Request) {
	link, err := h.app.Share(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}
