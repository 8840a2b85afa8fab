// Package httpapi exposes the control surface the host uses to
// enable/disable/cancel per-group indexing and check status, plus a
// webhook endpoint for mutation events delivered over HTTP instead of
// NATS, mirroring the teacher's gin route-group/middleware wiring.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/northbound-dev/mailindex/internal/authz"
	"github.com/northbound-dev/mailindex/internal/domain"
	"github.com/northbound-dev/mailindex/internal/eventstream"
	"github.com/northbound-dev/mailindex/internal/lifecycle"
	"github.com/northbound-dev/mailindex/internal/logging"
)

// Server wires the lifecycle controller and event applier behind a
// JWT-bearer-protected gin router.
type Server struct {
	controller *lifecycle.Controller
	apply      eventstream.ApplierFunc
	verifier   *authz.Verifier
	log        *logrus.Logger
	engine     *gin.Engine
}

// NewServer builds the router. verifier may be nil, in which case
// requests are not authenticated — used only in tests and local runs.
func NewServer(controller *lifecycle.Controller, apply eventstream.ApplierFunc, verifier *authz.Verifier) *Server {
	s := &Server{controller: controller, apply: apply, verifier: verifier, log: logging.For(logging.API)}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// ServeHTTP lets Server satisfy http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

func (s *Server) routes() {
	groups := s.engine.Group("/v1/groups/:groupId")
	groups.Use(s.authenticate())

	groups.POST("/enable", s.handleEnable)
	groups.POST("/disable", s.handleDisable)
	groups.POST("/cancel", s.handleCancel)
	groups.GET("/status", s.handleStatus)
	groups.POST("/events", s.handleEvents)
}

// authenticate enforces a valid bearer token when a verifier is
// configured, and stores the verified caller under the "caller" key of
// the gin context for handlers.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.verifier == nil {
			c.Next()
			return
		}

		caller, err := s.verifier.CallerFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("caller", caller)
		c.Next()
	}
}

func (s *Server) handleEnable(c *gin.Context) {
	groupID := c.Param("groupId")
	if err := s.controller.Enable(c.Request.Context(), []string{groupID}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"groupId": groupID, "enabled": true})
}

func (s *Server) handleDisable(c *gin.Context) {
	if err := s.controller.Disable(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (s *Server) handleCancel(c *gin.Context) {
	s.controller.Cancel(c.Param("groupId"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStatus(c *gin.Context) {
	status := s.controller.Status(c.Param("groupId"))
	c.JSON(http.StatusOK, gin.H{
		"running":               status.Running,
		"currentIndexTimestamp": status.CurrentIndexTimestamp,
	})
}

// eventsRequest is the webhook body for HTTP-delivered mutation
// batches. The excluded-list set is never accepted here: the mail
// indexer exclusively owns it via its own enabled state.
type eventsRequest struct {
	Events []domain.MutationEvent `json:"events" binding:"required"`
}

func (s *Server) handleEvents(c *gin.Context) {
	groupID := c.Param("groupId")

	var req eventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.apply(c.Request.Context(), groupID, req.Events); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
