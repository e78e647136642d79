package api

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/RichardoC/persona-chat/internal/config"
	"github.com/RichardoC/persona-chat/internal/db"
	"github.com/RichardoC/persona-chat/internal/llm"
	"github.com/RichardoC/persona-chat/internal/models"
	"go.uber.org/zap"
)

const sessionCookie = "sid"

//go:embed templates/index.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Page is the static content of the chat page.
type Page struct {
	Title        string
	Intro        string
	Name         string
	Caption      string
	Placeholder  string
	Note         string
	QuickPrompts []config.QuickPrompt
	Links        []config.Link
}

// Info describes the running backend.
type Info struct {
	Model        string              `json:"model"`
	Documents    map[models.Tier]int `json:"documents"`
	PromptTokens int                 `json:"prompt_tokens"`
	// CountTokens, when set, fills PromptTokens per request.
	CountTokens func() int `json:"-"`
}

type Handler struct {
	svc      *llm.Service
	logger   *zap.Logger
	page     Page
	info     Info
	renderer *Renderer
}

func NewHandler(svc *llm.Service, logger *zap.Logger, page Page, info Info) *Handler {
	return &Handler{
		svc:      svc,
		logger:   logger,
		page:     page,
		info:     info,
		renderer: NewRenderer(),
	}
}

// Routes registers every endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.ShowChat)
	mux.HandleFunc("POST /{$}", h.SubmitChat)
	mux.HandleFunc("POST /reset", h.ResetChat)
	mux.HandleFunc("POST /api/message", h.HandleMessage)
	mux.HandleFunc("GET /api/messages", h.GetMessages)
	mux.HandleFunc("POST /api/reset", h.ResetSession)
	mux.HandleFunc("GET /api/info", h.GetInfo)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type MessageRequest struct {
	Content string `json:"content"`
}

type TurnView struct {
	Role      models.Role   `json:"role"`
	Content   string        `json:"content"`
	HTML      template.HTML `json:"html,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

type MessageResponse struct {
	User  *TurnView `json:"user,omitempty"`
	Reply *TurnView `json:"reply,omitempty"`
	Error string    `json:"error,omitempty"`
	// RolledBack is set when a failed question was removed again.
	RolledBack bool `json:"rolled_back,omitempty"`
}

type pageData struct {
	Page
	Turns []TurnView
	Error string
}

func (h *Handler) ShowChat(w http.ResponseWriter, r *http.Request) {
	id, err := h.session(w, r)
	if err != nil {
		h.serverError(w, "Failed to start session", err)
		return
	}
	h.renderPage(w, r, id, "")
}

// SubmitChat handles the plain form post of the chat page, including the
// quick question buttons.
func (h *Handler) SubmitChat(w http.ResponseWriter, r *http.Request) {
	id, err := h.session(w, r)
	if err != nil {
		h.serverError(w, "Failed to start session", err)
		return
	}

	_, err = h.svc.Ask(r.Context(), id, r.FormValue("content"))
	if err == nil || errors.Is(err, llm.ErrEmptyMessage) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.logger.Warn("chat turn failed", zap.String("session", id), zap.Error(err))
	h.renderPage(w, r, id, "An error occurred: "+err.Error())
}

func (h *Handler) ResetChat(w http.ResponseWriter, r *http.Request) {
	if _, err := h.reset(w, r); err != nil {
		h.serverError(w, "Failed to reset session", err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageResponse{Error: "Invalid request body"})
		return
	}

	id, err := h.session(w, r)
	if err != nil {
		h.serverError(w, "Failed to start session", err)
		return
	}

	reply, err := h.svc.Ask(r.Context(), id, req.Content)
	if err != nil {
		var turnErr *llm.TurnError
		switch {
		case errors.Is(err, llm.ErrEmptyMessage):
			writeJSON(w, http.StatusBadRequest, MessageResponse{Error: err.Error()})
		case errors.Is(err, llm.ErrSessionBusy):
			writeJSON(w, http.StatusConflict, MessageResponse{Error: err.Error()})
		case errors.As(err, &turnErr):
			h.logger.Warn("chat turn failed", zap.String("session", id), zap.Error(err))
			writeJSON(w, http.StatusBadGateway, MessageResponse{Error: err.Error(), RolledBack: turnErr.RolledBack})
		default:
			h.serverError(w, "Failed to process message", err)
		}
		return
	}

	view := h.view(reply)
	resp := MessageResponse{Reply: &view}
	if user, ok := h.askedTurn(r.Context(), id); ok {
		resp.User = &user
	}
	writeJSON(w, http.StatusOK, resp)
}

// askedTurn returns the stored user turn answered by the latest reply.
func (h *Handler) askedTurn(ctx context.Context, id string) (TurnView, bool) {
	turns, err := h.svc.Transcript(ctx, id)
	if err != nil {
		h.logger.Warn("failed to read transcript", zap.String("session", id), zap.Error(err))
		return TurnView{}, false
	}
	if len(turns) < 2 || turns[len(turns)-2].Role != models.RoleUser {
		return TurnView{}, false
	}
	return h.view(turns[len(turns)-2]), true
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id, err := h.session(w, r)
	if err != nil {
		h.serverError(w, "Failed to start session", err)
		return
	}

	turns, err := h.svc.Transcript(r.Context(), id)
	if err != nil {
		h.serverError(w, "Failed to get messages", err)
		return
	}
	writeJSON(w, http.StatusOK, h.views(turns))
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.reset(w, r)
	if err != nil {
		h.serverError(w, "Failed to reset session", err)
		return
	}
	turns, err := h.svc.Transcript(r.Context(), id)
	if err != nil {
		h.serverError(w, "Failed to get messages", err)
		return
	}
	writeJSON(w, http.StatusOK, h.views(turns))
}

func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info := h.info
	if info.CountTokens != nil {
		info.PromptTokens = info.CountTokens()
	}
	writeJSON(w, http.StatusOK, info)
}

// session returns the caller's session, starting one when the cookie is
// missing or refers to a session that no longer exists.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, err := h.svc.Session(r.Context(), c.Value); err == nil {
			return c.Value, nil
		} else if !errors.Is(err, db.ErrSessionNotFound) {
			return "", err
		}
	}
	return h.start(w, r)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) (string, error) {
	sess, err := h.svc.StartSession(r.Context())
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess.ID, nil
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if err := h.svc.EndSession(r.Context(), c.Value); err != nil && !errors.Is(err, db.ErrSessionNotFound) {
			return "", err
		}
	}
	return h.start(w, r)
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, id, message string) {
	turns, err := h.svc.Transcript(r.Context(), id)
	if err != nil {
		h.serverError(w, "Failed to get messages", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, pageData{Page: h.page, Turns: h.views(turns), Error: message}); err != nil {
		h.logger.Error("Failed to render page", zap.Error(err))
	}
}

func (h *Handler) view(t models.Turn) TurnView {
	v := TurnView{Role: t.Role, Content: t.Content, CreatedAt: t.CreatedAt}
	if t.Role == models.RoleAssistant {
		v.HTML = h.renderer.Render(t.Content)
	}
	return v
}

func (h *Handler) views(turns []models.Turn) []TurnView {
	out := make([]TurnView, 0, len(turns))
	for _, t := range turns {
		out = append(out, h.view(t))
	}
	return out
}

func (h *Handler) serverError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
