package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/clinicops/dealsync/internal/models"
	"github.com/clinicops/dealsync/internal/stage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api")
	api.POST("/moves", s.handleCreateMove)
	api.GET("/board", s.handleBoard)
	api.POST("/board/refresh", s.handleBoardRefresh)
	api.GET("/sync/status", s.handleSyncStatus)
	api.POST("/sync/run", s.handleSyncRun)
	api.GET("/events", s.handleEvents)

	admin := api.Group("/admin")
	admin.POST("/moves/reset", s.handleResetFailed)
	admin.DELETE("/moves/failed", s.handlePurgeFailed)
	admin.DELETE("/moves/field-updates", s.handlePurgeFieldUpdates)

	s.engine.GET("/oauth/authorize", s.handleAuthorize)
	s.engine.GET("/oauth/callback", s.handleCallback)
}

// moveRequest is the drag-end payload. Stage moves carry from/to stages;
// field updates carry the custom field instead.
type moveRequest struct {
	Kind       string `json:"kind"`
	Tenant     string `json:"tenant"`
	RecordID   string `json:"record_id"`
	FromStage  string `json:"from_stage"`
	ToStage    string `json:"to_stage"`
	FieldID    string `json:"field_id"`
	FieldValue string `json:"field_value"`
}

// handleCreateMove records a drag-end action: the override is written before
// the move is queued so a board refresh mid-flight shows the new stage. The
// provider is never called here; drag-and-drop stays instant regardless of
// CRM latency.
func (s *Server) handleCreateMove(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.Kind == "" {
		req.Kind = models.MoveKindStage
	}
	if req.Tenant == "" || req.RecordID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant and record_id are required"})
		return
	}
	if s.cfg.Tenant(req.Tenant) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tenant"})
		return
	}

	switch req.Kind {
	case models.MoveKindStage:
		if !stage.Valid(req.ToStage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown target stage"})
			return
		}
		if err := s.overrides.Upsert(req.RecordID, req.ToStage); err != nil {
			s.logger.Error("move_override_failed", zap.String("record", req.RecordID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record stage"})
			return
		}
		id, err := s.store.EnqueueStageMove(req.Tenant, req.RecordID, req.FromStage, req.ToStage)
		if err != nil {
			s.logger.Error("move_enqueue_failed", zap.String("record", req.RecordID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue move"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": models.MoveStatusPending})

	case models.MoveKindField:
		if req.FieldID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "field_id is required"})
			return
		}
		id, err := s.store.EnqueueFieldUpdate(req.Tenant, req.RecordID, req.FieldID, req.FieldValue)
		if err != nil {
			s.logger.Error("move_enqueue_failed", zap.String("record", req.RecordID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not queue update"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id, "status": models.MoveStatusPending})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown move kind"})
	}
}

func (s *Server) handleBoard(c *gin.Context) {
	board, err := Board(s.db, c.Query("tenant"))
	if err != nil {
		s.logger.Error("board_query_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load board"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"columns": board})
}

// handleBoardRefresh re-pulls every tenant's opportunities from the CRM into
// the local mirror. Reads go through the mirror, so this is the only path
// that talks to the provider on the board's behalf.
func (s *Server) handleBoardRefresh(c *gin.Context) {
	n, err := s.proc.RefreshMirror(c.Request.Context())
	if err != nil {
		s.logger.Error("board_refresh_failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not refresh from CRM"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upserted": n})
}

func (s *Server) handleSyncStatus(c *gin.Context) {
	status, err := s.store.Status()
	if err != nil {
		s.logger.Error("sync_status_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load sync status"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleSyncRun triggers one processor pass. Guarded by the shared secret
// when one is configured, since schedulers invoke it from outside.
func (s *Server) handleSyncRun(c *gin.Context) {
	if secret := s.cfg.Sync.SharedSecret; secret != "" {
		got := c.GetHeader("X-Sync-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	result, err := s.proc.Run(c.Request.Context())
	if err != nil {
		s.logger.Error("sync_run_failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync run failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleResetFailed(c *gin.Context) {
	n, err := s.store.ResetFailed()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

func (s *Server) handlePurgeFailed(c *gin.Context) {
	n, err := s.store.PurgeFailed()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) handlePurgeFieldUpdates(c *gin.Context) {
	n, err := s.store.PurgeFieldUpdates()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// handleAuthorize redirects the operator to the provider's consent page for
// the tenant named in the query. The tenant key rides through as state.
func (s *Server) handleAuthorize(c *gin.Context) {
	tenantKey := c.Query("tenant")
	if s.cfg.Tenant(tenantKey) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tenant"})
		return
	}
	c.Redirect(http.StatusFound, s.broker.AuthCodeURL(tenantKey))
}

// handleCallback completes the re-authorization: the code is exchanged for a
// fresh credential pair and the tenant's needs_reauth flag is cleared.
func (s *Server) handleCallback(c *gin.Context) {
	code := c.Query("code")
	tenantKey := c.Query("state")
	if code == "" || s.cfg.Tenant(tenantKey) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or unknown tenant"})
		return
	}

	if err := s.broker.CompleteReauth(c.Request.Context(), tenantKey, code); err != nil {
		s.logger.Error("reauth_failed", zap.String("tenant", tenantKey), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "token exchange failed"})
		return
	}

	s.logger.Info("reauth_complete", zap.String("tenant", tenantKey))
	c.JSON(http.StatusOK, gin.H{"tenant": tenantKey, "reauthorized": true})
}
