package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"legaldemo/internal/demo"
	"legaldemo/internal/logger"
	"legaldemo/internal/models"
)

const (
	sessionCookieName   = "demo_session"
	sessionHeaderName   = "X-Demo-Session"
	multipartOverhead   = 1 << 20
	defaultCookieMaxAge = 30 * 60
)

// Handler wires HTTP routes to the demo service.
type Handler struct {
	demo      *demo.Service
	log       *logger.Logger
	cookieTTL time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(svc *demo.Service, log *logger.Logger, sessionTTL time.Duration) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{demo: svc, log: log.With("component", "api"), cookieTTL: sessionTTL}
}

// RegisterRoutes attaches all HTTP routes to the router. Extra middleware
// applies to the demo routes only.
func (h *Handler) RegisterRoutes(router *gin.Engine, demoMW ...gin.HandlerFunc) {
	api := router.Group("/api")
	api.GET("/health", h.health)

	demoRoutes := api.Group("/demo")
	demoRoutes.Use(demoMW...)
	demoRoutes.POST("/upload", h.upload)
	demoRoutes.POST("/ask", h.ask)
	demoRoutes.GET("/sessions/:session_id", h.getSession)
	demoRoutes.DELETE("/sessions/:session_id", h.resetSession)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) upload(c *gin.Context) {
	limit := h.demo.MaxUploadBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(c, demo.ErrPayloadTooLarge)
			return
		}
		h.writeError(c, invalidRequest("file is required"))
		return
	}
	if file.Size > limit {
		h.writeError(c, demo.ErrPayloadTooLarge)
		return
	}
	f, err := file.Open()
	if err != nil {
		h.writeError(c, invalidRequest("open file failed"))
		return
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	_ = f.Close()
	if err != nil {
		h.writeError(c, invalidRequest("read file failed"))
		return
	}

	sessionID := strings.TrimSpace(c.PostForm("session_id"))
	if sessionID == "" {
		sessionID = strings.TrimSpace(c.GetHeader(sessionHeaderName))
	}
	res, err := h.demo.Upload(c.Request.Context(), demo.UploadInput{
		SessionID: sessionID,
		Filename:  filepath.Base(file.Filename),
		Data:      data,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.setSessionCookie(c, res.SessionID)
	c.JSON(http.StatusCreated, res)
}

type askRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

func (h *Handler) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, invalidRequest("invalid request body"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = h.sessionFromRequest(c)
	}
	res, err := h.demo.Ask(c.Request.Context(), demo.AskInput{SessionID: req.SessionID, Question: req.Question})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type sessionView struct {
	SessionID          string           `json:"session_id"`
	DocumentID         string           `json:"document_id,omitempty"`
	Summary            []string         `json:"summary"`
	Messages           []models.Message `json:"messages"`
	QuestionsAsked     int              `json:"questions_asked"`
	QuestionsLimit     int              `json:"questions_limit"`
	QuestionsRemaining int              `json:"questions_remaining"`
	CreatedAt          time.Time        `json:"created_at"`
	ExpiresAt          time.Time        `json:"expires_at"`
}

func (h *Handler) getSession(c *gin.Context) {
	se, err := h.demo.Session(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	summary := se.Summary
	if summary == nil {
		summary = []string{}
	}
	messages := se.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	c.JSON(http.StatusOK, sessionView{
		SessionID:          se.ID,
		DocumentID:         se.DocumentID,
		Summary:            summary,
		Messages:           messages,
		QuestionsAsked:     se.QuestionsAsked,
		QuestionsLimit:     se.QuestionsLimit,
		QuestionsRemaining: se.Remaining(),
		CreatedAt:          se.CreatedAt,
		ExpiresAt:          se.ExpiresAt,
	})
}

func (h *Handler) resetSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := h.demo.Reset(c.Request.Context(), sessionID); err != nil {
		h.writeError(c, err)
		return
	}
	if cookie, err := c.Cookie(sessionCookieName); err == nil && cookie == sessionID {
		h.clearSessionCookie(c)
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) sessionFromRequest(c *gin.Context) string {
	if v := strings.TrimSpace(c.GetHeader(sessionHeaderName)); v != "" {
		return v
	}
	if v, err := c.Cookie(sessionCookieName); err == nil {
		return v
	}
	return ""
}

func (h *Handler) setSessionCookie(c *gin.Context, sessionID string) {
	maxAge := int(h.cookieTTL.Seconds())
	if maxAge <= 0 {
		maxAge = defaultCookieMaxAge
	}
	setCookie(c, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		MaxAge:   maxAge,
		Path:     "/api/demo",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(c *gin.Context) {
	setCookie(c, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/api/demo",
		Secure:   gin.Mode() == gin.ReleaseMode,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
