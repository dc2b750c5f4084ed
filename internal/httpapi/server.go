package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/skilltrack/internal/display"
	"github.com/MarkoPoloResearchLab/skilltrack/pkg/skills"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	contextKeyEntityID     = "entity_id"
	bearerPrefix           = "Bearer "
	invalidSkillMessage    = "You have specified an invalid skill name!"
	errorCodeUnauthorized  = "unauthorized"
	errorCodeInvalidSkill  = "invalid_skill"
	errorCodeInvalidBody   = "invalid_payload"
	errorCodeNoSession     = "missing_session"
	errorCodeUnavailable   = "service_stopped"
	errorCodeInternal      = "internal"
	defaultShutdownTimeout = 5 * time.Second
)

// Config holds the settings the HTTP surface needs.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	SigningKey     string
	Issuer         string
}

// Dependencies are the collaborators routed to by the HTTP surface.
type Dependencies struct {
	Skills   *skills.Service
	Board    *display.Board
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Run serves the router until ctx is done.
func Run(ctx context.Context, cfg Config, dependencies Dependencies) error {
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(cfg, dependencies),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config, dependencies Dependencies) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	gatherer := dependencies.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger: logger,
		skills: dependencies.Skills,
		board:  dependencies.Board,
	}

	api := router.Group("/api")
	api.Use(bearerAuth([]byte(cfg.SigningKey), cfg.Issuer))
	api.POST("/track", handler.handleTrack)
	api.GET("/skills", handler.handleSkills)
	api.GET("/skills/complete", handler.handleComplete)
	api.GET("/tracker", handler.handleTracker)

	return router
}

// bearerAuth validates an HS256 token and stores its subject as the entity id.
func bearerAuth(signingKey []byte, issuer string) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return signingKey, nil }
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing bearer token"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		if _, err := parser.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims, keyFunc); err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "invalid token"))
			return
		}
		entityID, err := skills.NewEntityID(claims.Subject)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "invalid subject"))
			return
		}
		ctx.Set(contextKeyEntityID, entityID)
		ctx.Next()
	}
}

type httpHandler struct {
	logger *zap.Logger
	skills *skills.Service
	board  *display.Board
}

func (handler *httpHandler) handleTrack(ctx *gin.Context) {
	entityID := getEntityID(ctx)
	var request trackRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidBody, "expected JSON body"))
		return
	}
	category, err := skills.ParseCategory(request.Skill)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorCodeInvalidSkill, invalidSkillMessage))
		return
	}
	if err := handler.skills.Track(ctx.Request.Context(), entityID, category); err != nil {
		handler.respondWithError(ctx, err)
		return
	}
	handler.respondWithTracker(ctx, entityID)
}

func (handler *httpHandler) handleSkills(ctx *gin.Context) {
	entityID := getEntityID(ctx)
	statuses, err := handler.skills.Snapshot(entityID)
	if err != nil {
		handler.respondWithError(ctx, err)
		return
	}
	payload := make([]skillPayload, 0, len(statuses))
	for _, skillStatus := range statuses {
		payload = append(payload, skillPayload{
			Skill:    strings.ToLower(skillStatus.Category.String()),
			Amount:   skillStatus.Amount,
			Level:    skillStatus.Level,
			Progress: skillStatus.Progress,
			Title:    skillStatus.Title,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"skills": payload})
}

func (handler *httpHandler) handleComplete(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"completions": skills.CompleteCategory(ctx.Query("prefix"))})
}

func (handler *httpHandler) handleTracker(ctx *gin.Context) {
	handler.respondWithTracker(ctx, getEntityID(ctx))
}

func (handler *httpHandler) respondWithTracker(ctx *gin.Context, entityID skills.EntityID) {
	tracked, ok := handler.skills.Tracked(entityID)
	if !ok {
		ctx.JSON(http.StatusConflict, errorResponse(errorCodeNoSession, "no active session"))
		return
	}
	response := trackerPayload{Skill: strings.ToLower(tracked.String())}
	if handler.board != nil {
		if view, visible := handler.board.View(entityID); visible {
			response.Title = view.Title
			response.Progress = view.Fraction
		}
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) respondWithError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, skills.ErrMissingSession):
		ctx.JSON(http.StatusConflict, errorResponse(errorCodeNoSession, "no active session"))
	case errors.Is(err, skills.ErrServiceStopped):
		ctx.JSON(http.StatusServiceUnavailable, errorResponse(errorCodeUnavailable, "service is shutting down"))
	default:
		handler.logger.Error("skills request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(errorCodeInternal, "request failed"))
	}
}

func getEntityID(ctx *gin.Context) skills.EntityID {
	value, _ := ctx.Get(contextKeyEntityID)
	entityID, _ := value.(skills.EntityID)
	return entityID
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type trackRequest struct {
	Skill string `json:"skill"`
}

type skillPayload struct {
	Skill    string  `json:"skill"`
	Amount   int64   `json:"amount"`
	Level    int     `json:"level"`
	Progress float64 `json:"progress"`
	Title    string  `json:"title"`
}

type trackerPayload struct {
	Skill    string  `json:"skill"`
	Title    string  `json:"title"`
	Progress float64 `json:"progress"`
}
