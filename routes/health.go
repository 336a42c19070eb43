package routes

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"query-sphere/internal/ai"
	"query-sphere/internal/config"
	"query-sphere/internal/session"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

// HealthInfo describes the pinned models reported by /health.
type HealthInfo struct {
	EmbeddingModel string
	LLMModel       string
	Usage          func() ai.TokenUsage
}

func SetupHealthRoutes(router *gin.Engine, manager *session.Manager, info HealthInfo) {
	started := time.Now()

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":          "healthy",
			"timestamp":       time.Now(),
			"uptime_seconds":  int64(time.Since(started).Seconds()),
			"sessions":        manager.Len(),
			"embedding_model": info.EmbeddingModel,
			"llm_model":       info.LLMModel,
		}
		if info.Usage != nil {
			body["llm_usage"] = info.Usage()
		}
		c.JSON(http.StatusOK, body)
	})
}

// SetupUIRoutes serves the single page that drives the session API.
func SetupUIRoutes(router *gin.Engine, cfg *config.Config) {
	router.SetHTMLTemplate(template.Must(template.ParseFS(templatesFS, "templates/*.html")))

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", gin.H{
			"MaxUploadMB": cfg.MaxFileSize / (1024 * 1024),
			"TopK":        cfg.TopK,
		})
	})
}
