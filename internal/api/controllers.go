package api

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"perp-core/internal/engine"
	"perp-core/pkg/config"
	"perp-core/pkg/exchanges/common"
	"perp-core/pkg/i18n"
)

type journalQuery struct {
	Limit int `form:"limit"`
}

func (q *journalQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine and exchange failures onto HTTP statuses.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	var apiErr *common.APIError
	switch {
	case errors.Is(err, engine.ErrAlreadyRunning):
		respondError(c, http.StatusConflict, "ALREADY_RUNNING", i18n.M().AlreadyRunning)
	case errors.Is(err, engine.ErrNotRunning):
		respondError(c, http.StatusConflict, "NOT_RUNNING", i18n.M().NotRunning)
	case errors.Is(err, engine.ErrNoPosition):
		respondError(c, http.StatusNotFound, "NO_POSITION", i18n.M().NoPosition)
	case common.IsConnectivity(err):
		respondError(c, http.StatusServiceUnavailable, "EXCHANGE_UNREACHABLE", err.Error())
	case errors.As(err, &apiErr):
		respondError(c, http.StatusBadGateway, "EXCHANGE_ERROR", err.Error())
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Status(c.Request.Context()))
}

// getConfig returns the saved settings, or the defaults before a file exists.
func (s *Server) getConfig(c *gin.Context) {
	settings, err := config.LoadSettings(s.deps.SettingsPath)
	if errors.Is(err, fs.ErrNotExist) {
		settings, err = config.DefaultSettings(), nil
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "SETTINGS_UNREADABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, settings)
}

// saveConfig validates and persists settings. A running loop keeps its
// settings until the next start.
func (s *Server) saveConfig(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", i18n.M().InvalidPayload)
		return
	}
	settings, err := config.ParseSettings(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_SETTINGS",
			"error":   i18n.M().InvalidSettings,
			"details": err.Error(),
		})
		return
	}
	if err := config.SaveSettings(s.deps.SettingsPath, settings); err != nil {
		respondError(c, http.StatusInternalServerError, "SETTINGS_NOT_SAVED", err.Error())
		return
	}
	s.log.Info("settings saved", zap.String("operator", CurrentOperator(c)), zap.String("path", s.deps.SettingsPath))
	c.JSON(http.StatusOK, gin.H{
		"message":  i18n.M().SettingsSaved,
		"settings": settings,
	})
}

func (s *Server) start(c *gin.Context) {
	if err := s.deps.Engine.Start(c.Request.Context()); err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.log.Info("engine started via api", zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, gin.H{"message": i18n.M().EngineStarted})
}

func (s *Server) stop(c *gin.Context) {
	if err := s.deps.Engine.Stop(c.Request.Context()); err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.log.Info("engine stopped via api", zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, gin.H{"message": i18n.M().EngineStopped})
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.deps.Engine.Positions(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getBalance(c *gin.Context) {
	view, err := s.deps.Engine.Balance(c.Request.Context())
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) closePosition(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "INVALID_SYMBOL", i18n.M().InvalidPayload)
		return
	}
	if err := s.deps.Engine.ClosePosition(c.Request.Context(), symbol); err != nil {
		s.respondEngineError(c, err)
		return
	}
	s.log.Info("position closed via api", zap.String("symbol", symbol), zap.String("operator", CurrentOperator(c)))
	c.JSON(http.StatusOK, gin.H{"message": i18n.M().PositionClosed, "symbol": symbol})
}

// getJournal returns the latest order and reconciliation rows.
func (s *Server) getJournal(c *gin.Context) {
	if s.deps.Journal == nil {
		respondError(c, http.StatusServiceUnavailable, "JOURNAL_UNAVAILABLE", i18n.M().JournalUnavailable)
		return
	}
	var q journalQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", i18n.M().InvalidPayload)
		return
	}
	q.normalize()

	ctx := c.Request.Context()
	orders, err := s.deps.Journal.RecentOrders(ctx, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	recons, err := s.deps.Journal.RecentReconciliations(ctx, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":          orders,
		"reconciliations": recons,
	})
}

func (s *Server) testConnection(c *gin.Context) {
	if err := s.deps.Engine.TestConnection(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"ok":      false,
			"message": i18n.M().ConnectionFailed,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": i18n.M().ConnectionOK})
}
