// Package api exposes the engine over HTTP with gin. Authentication happens
// upstream; the authenticated caller arrives in the X-Identity header.
package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rewired-gh/betledger/internal/betting"
	"github.com/rewired-gh/betledger/internal/logger"
	"github.com/rewired-gh/betledger/internal/metrics"
	"github.com/rewired-gh/betledger/internal/models"
)

const (
	IdentityHeader  = "X-Identity"
	RequestIDHeader = "X-Request-ID"
)

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	engine            *betting.Engine
	metrics           *metrics.Collector
	houseSharePercent int
}

// NewHandler creates a Handler. collector may be nil to disable /metrics.
// houseSharePercent is used when StartSettling is called without an explicit share.
func NewHandler(engine *betting.Engine, collector *metrics.Collector, houseSharePercent int) *Handler {
	return &Handler{
		engine:            engine,
		metrics:           collector,
		houseSharePercent: houseSharePercent,
	}
}

// NewRouter returns a gin engine with recovery, request ids and every route registered.
func (h *Handler) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestContext())
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers all the application routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}

	router.GET("/event", h.GetEvent)
	router.POST("/event", h.CreateEvent)
	router.POST("/event/advance", h.AdvanceToOngoing)
	router.POST("/event/start", h.StartEvent)
	router.POST("/event/winner", h.DeclareWinner)

	router.GET("/participants", h.GetParticipants)
	router.POST("/participants", h.SetParticipants)
	router.DELETE("/participants", h.ClearParticipants)

	router.POST("/bets", h.PlaceBet)
	router.GET("/gambles", h.GetAllGambles)
	router.GET("/gambles/:id", h.GetGamble)
	router.POST("/gambles/claim", h.ClaimAll)
	router.POST("/gambles/:id/claim", h.Claim)
	router.POST("/gambles/:id/payout", h.ResolvePayout)
	router.GET("/gamblers/:identity/gambles", h.GetBetsPlacedBy)

	router.GET("/tally", h.GetTally)
	router.GET("/payable", h.GetPayable)
	router.GET("/escrow", h.GetEscrow)
	router.GET("/transfers", h.GetTransfers)
	router.GET("/payouts", h.GetPendingPayouts)

	router.POST("/settlement/start", h.StartSettling)
	router.POST("/settlement/finalize", h.FinalizeSettled)
}

// requestContext tags each request with an id and records its outcome.
func (h *Handler) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		logger.Debug("%s %s -> %d in %s (request %s)", c.Request.Method, route, status, time.Since(start), id)
		if h.metrics != nil {
			h.metrics.RecordRequest(c.Request.Method, route, status, time.Since(start))
		}
	}
}

func caller(c *gin.Context) models.Identity {
	return models.Identity(strings.TrimSpace(c.GetHeader(IdentityHeader)))
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, betting.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, betting.ErrGambleNotFound):
		return http.StatusNotFound
	case errors.Is(err, betting.ErrInvalidState),
		errors.Is(err, betting.ErrTooEarly),
		errors.Is(err, betting.ErrAlreadyClaimed),
		errors.Is(err, betting.ErrAlreadyResolved):
		return http.StatusConflict
	case betting.KindOf(err) == "Internal":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

// respond writes the structured result of an engine call.
func (h *Handler) respond(c *gin.Context, op string, status int, err error, body gin.H) {
	if h.metrics != nil {
		h.metrics.RecordOperation(op, err)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	if body == nil {
		body = gin.H{}
	}
	body["ok"] = true
	c.JSON(status, body)
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"ok": false, "error": betting.KindOf(err), "message": err.Error()}
	var wait *betting.WaitError
	if errors.As(err, &wait) {
		secs := int(math.Ceil(wait.Remaining.Seconds()))
		body["retry_after_seconds"] = secs
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	if status == http.StatusInternalServerError {
		logger.Error("Request %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "BadRequest", "message": err.Error()})
}

func gambleID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		badRequest(c, errors.New("gamble id must be a non-negative integer"))
		return 0, false
	}
	return id, true
}

// Health reports liveness and the active phase.
func (h *Handler) Health(c *gin.Context) {
	ev := h.engine.GetEventDetails()
	c.JSON(http.StatusOK, gin.H{"ok": true, "event_id": ev.EventID, "phase": ev.Status.String()})
}
