package routes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"query-sphere/internal/auth"
	"query-sphere/internal/config"
	"query-sphere/internal/session"
	"query-sphere/middleware"
	"query-sphere/models"
	"query-sphere/services"
	"query-sphere/utils"

	"github.com/gin-gonic/gin"
)

// DocumentFetcher downloads a document from a public URL.
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (models.Upload, error)
}

type sessionHandler struct {
	cfg     *config.Config
	manager *session.Manager
	tokens  *auth.SessionTokens
	fetcher DocumentFetcher
}

func SetupSessionRoutes(router *gin.Engine, cfg *config.Config, manager *session.Manager, tokens *auth.SessionTokens, fetcher DocumentFetcher) {
	h := &sessionHandler{cfg: cfg, manager: manager, tokens: tokens, fetcher: fetcher}

	api := router.Group("/api")
	api.POST("/sessions", h.createSession)

	s := api.Group("/session")
	s.Use(middleware.RequireSession(tokens, manager))
	s.GET("", h.getSession)
	s.DELETE("", h.deleteSession)
	s.POST("/document", h.uploadDocument)
	s.POST("/document/url", h.uploadDocumentURL)
	s.POST("/questions", h.askQuestion)
	s.GET("/result", h.downloadResult)
	s.GET("/history/export", h.exportHistory)
}

func (h *sessionHandler) createSession(c *gin.Context) {
	s, err := h.manager.Create()
	if err != nil {
		utils.RespondWithPipelineError(c, err, nil)
		return
	}

	token, exp, err := h.tokens.Issue(s.ID())
	if err != nil {
		h.manager.Delete(s.ID())
		middleware.RequestLogger(c).Error("Failed to issue session token", "error", err)
		utils.RespondWithInternalError(c, "Failed to create session", nil)
		return
	}

	middleware.RequestLogger(c).Info("Session created", "session_id", s.ID())
	c.JSON(http.StatusCreated, models.SessionCreated{
		ID:        s.ID(),
		Token:     token,
		ExpiresAt: exp,
		State:     s.State(),
	})
}

func (h *sessionHandler) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, middleware.GetSession(c).View())
}

func (h *sessionHandler) deleteSession(c *gin.Context) {
	s := middleware.GetSession(c)
	if err := h.manager.Delete(s.ID()); err != nil {
		utils.RespondWithPipelineError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session closed", "session_id": s.ID()})
}

func (h *sessionHandler) uploadDocument(c *gin.Context) {
	s := middleware.GetSession(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			utils.RespondWithPipelineError(c, models.ErrDocumentTooLarge, gin.H{"max_size": h.cfg.MaxFileSize})
			return
		}
		utils.RespondWithBadRequest(c, "A document is required in the 'file' form field", gin.H{"error": err.Error()})
		return
	}
	if fileHeader.Size == 0 {
		utils.RespondWithBadRequest(c, "The uploaded file is empty", nil)
		return
	}
	if fileHeader.Size > h.cfg.MaxFileSize {
		utils.RespondWithPipelineError(c, models.ErrDocumentTooLarge, gin.H{
			"max_size": h.cfg.MaxFileSize,
			"received": fileHeader.Size,
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		utils.RespondWithBadRequest(c, "Failed to read the uploaded file", gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.cfg.MaxFileSize+1))
	if err != nil {
		utils.RespondWithBadRequest(c, "Failed to read the uploaded file", gin.H{"error": err.Error()})
		return
	}

	h.runUpload(c, s, models.Upload{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	})
}

func (h *sessionHandler) uploadDocumentURL(c *gin.Context) {
	s := middleware.GetSession(c)

	var req models.URLUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.RespondWithBadRequest(c, "A document URL is required", gin.H{"error": err.Error()})
		return
	}

	up, err := h.fetcher.Fetch(c.Request.Context(), req.URL)
	if err != nil {
		middleware.RequestLogger(c).Warn("Document download failed", "error", err)
		utils.RespondWithPipelineError(c, err, gin.H{"state": s.State()})
		return
	}
	h.runUpload(c, s, up)
}

func (h *sessionHandler) runUpload(c *gin.Context, s *session.Session, up models.Upload) {
	result, err := s.Upload(c.Request.Context(), up)
	if err != nil {
		utils.RespondWithPipelineError(c, err, gin.H{"state": s.State()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *sessionHandler) askQuestion(c *gin.Context) {
	s := middleware.GetSession(c)

	var req models.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		utils.RespondWithPipelineError(c, models.ErrInvalidQuestion, nil)
		return
	}

	answer, err := s.Ask(c.Request.Context(), req.Question)
	if err != nil {
		utils.RespondWithPipelineError(c, err, gin.H{"state": s.State()})
		return
	}
	c.JSON(http.StatusOK, answer)
}

func (h *sessionHandler) downloadResult(c *gin.Context) {
	s := middleware.GetSession(c)

	answer := s.LastAnswer()
	if answer == nil {
		utils.RespondWithNotFound(c, "No answer yet. Ask a question first.")
		return
	}

	data, err := services.ExportJSON(answer)
	if err != nil {
		utils.RespondWithInternalError(c, "Failed to export result", nil)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=query_result.json")
	c.Data(http.StatusOK, services.ContentTypeJSON, data)
}

func (h *sessionHandler) exportHistory(c *gin.Context) {
	s := middleware.GetSession(c)

	format := c.DefaultQuery("format", "json")
	export := services.NewHistoryExport(s.ID(), format, s.Document(), s.History())

	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case "json":
		data, err = services.ExportJSON(export)
		contentType = services.ContentTypeJSON
	case "xlsx", "excel":
		format = "xlsx"
		data, err = services.ExportExcel(export)
		contentType = services.ContentTypeXLSX
	default:
		utils.RespondWithBadRequest(c, "Unsupported export format", gin.H{"supported": []string{"json", "xlsx"}})
		return
	}
	if err != nil {
		middleware.RequestLogger(c).Error("History export failed", "format", format, "error", err)
		utils.RespondWithInternalError(c, "Failed to export history", nil)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=query_history.%s", format))
	c.Data(http.StatusOK, contentType, data)
}
