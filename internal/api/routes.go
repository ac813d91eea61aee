package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rewired-gh/betledger/internal/betting"
	"github.com/rewired-gh/betledger/internal/models"
)

type createEventRequest struct {
	Name             string `json:"name" binding:"required"`
	Description      string `json:"description"`
	BettingDuration  string `json:"betting_duration" binding:"required"`
	SettlingDuration string `json:"settling_duration" binding:"required"`
}

type participantRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	BaseValue   models.Amount `json:"base_value"`
}

type setParticipantsRequest struct {
	Participants []participantRequest `json:"participants" binding:"required"`
}

type declareWinnerRequest struct {
	ParticipantID *int `json:"participant_id" binding:"required"`
}

type placeBetRequest struct {
	ParticipantID *int          `json:"participant_id" binding:"required"`
	Amount        models.Amount `json:"amount"`
}

type startSettlingRequest struct {
	// HouseShare overrides the configured percentage when present.
	HouseShare *models.Amount `json:"house_share"`
}

type payoutRequest struct {
	// Winnings defaults to the pro-rata plan for the gamble.
	Winnings *models.Amount `json:"winnings"`
}

func (h *Handler) GetEvent(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "event": h.engine.GetEventDetails()})
}

func (h *Handler) CreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	bettingFor, err := time.ParseDuration(req.BettingDuration)
	if err != nil {
		badRequest(c, fmt.Errorf("betting_duration: %w", err))
		return
	}
	settlingFor, err := time.ParseDuration(req.SettlingDuration)
	if err != nil {
		badRequest(c, fmt.Errorf("settling_duration: %w", err))
		return
	}
	id, err := h.engine.CreateEvent(c.Request.Context(), caller(c), req.Name, req.Description, bettingFor, settlingFor)
	h.respond(c, "CreateEvent", http.StatusCreated, err, gin.H{"event_id": id})
}

func (h *Handler) AdvanceToOngoing(c *gin.Context) {
	err := h.engine.ForciblyAdvanceToOngoing(c.Request.Context(), caller(c))
	h.respond(c, "ForciblyAdvanceToOngoing", http.StatusOK, err, nil)
}

func (h *Handler) StartEvent(c *gin.Context) {
	err := h.engine.StartEvent(c.Request.Context(), caller(c))
	h.respond(c, "StartEvent", http.StatusOK, err, nil)
}

func (h *Handler) DeclareWinner(c *gin.Context) {
	var req declareWinnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := h.engine.DeclareWinner(c.Request.Context(), caller(c), *req.ParticipantID)
	h.respond(c, "DeclareWinner", http.StatusOK, err, nil)
}

func (h *Handler) GetParticipants(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "participants": h.engine.GetParticipants()})
}

func (h *Handler) SetParticipants(c *gin.Context) {
	var req setParticipantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	list := make([]models.Participant, len(req.Participants))
	for i, p := range req.Participants {
		list[i] = models.Participant{Name: p.Name, Description: p.Description, BaseValue: p.BaseValue}
	}
	err := h.engine.SetParticipants(c.Request.Context(), caller(c), list)
	h.respond(c, "SetParticipants", http.StatusOK, err, gin.H{"participants": h.engine.GetParticipants()})
}

func (h *Handler) ClearParticipants(c *gin.Context) {
	err := h.engine.ClearParticipants(c.Request.Context(), caller(c))
	h.respond(c, "ClearParticipants", http.StatusOK, err, nil)
}

func (h *Handler) PlaceBet(c *gin.Context) {
	var req placeBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, err := h.engine.PlaceBet(c.Request.Context(), caller(c), *req.ParticipantID, req.Amount)
	h.respond(c, "PlaceBet", http.StatusCreated, err, gin.H{"gamble_id": id})
}

func (h *Handler) GetAllGambles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "gambles": nonNil(h.engine.GetAllGambles())})
}

func (h *Handler) GetGamble(c *gin.Context) {
	id, ok := gambleID(c)
	if !ok {
		return
	}
	g, err := h.engine.GetGambleDetails(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "gamble": g})
}

func (h *Handler) GetBetsPlacedBy(c *gin.Context) {
	who := models.Identity(c.Param("identity"))
	c.JSON(http.StatusOK, gin.H{"ok": true, "gambles": nonNil(h.engine.GetBetsPlacedBy(who))})
}

func (h *Handler) Claim(c *gin.Context) {
	id, ok := gambleID(c)
	if !ok {
		return
	}
	err := h.engine.Claim(c.Request.Context(), caller(c), id)
	h.respond(c, "Claim", http.StatusOK, err, gin.H{"gamble_id": id})
}

func (h *Handler) ClaimAll(c *gin.Context) {
	ids, err := h.engine.ClaimAll(c.Request.Context(), caller(c))
	h.respond(c, "ClaimAll", http.StatusOK, err, gin.H{"claimed": ids})
}

func (h *Handler) ResolvePayout(c *gin.Context) {
	id, ok := gambleID(c)
	if !ok {
		return
	}
	var req payoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	var winnings models.Amount
	if req.Winnings != nil {
		winnings = *req.Winnings
	} else {
		plan, found := h.planFor(id)
		if !found {
			h.fail(c, fmt.Errorf("%w: gamble %d has no pending payout, pass winnings explicitly", betting.ErrNotClaimed, id))
			return
		}
		winnings = plan.Winnings
	}
	err := h.engine.ResolvePayout(c.Request.Context(), caller(c), id, winnings)
	h.respond(c, "ResolvePayout", http.StatusOK, err, gin.H{"gamble_id": id, "winnings": winnings})
}

func (h *Handler) planFor(id int) (betting.PayoutPlan, bool) {
	for _, p := range h.engine.PendingPayouts() {
		if p.GambleID == id {
			return p, true
		}
	}
	return betting.PayoutPlan{}, false
}

func (h *Handler) GetTally(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "tally": h.engine.GetBetsTally()})
}

func (h *Handler) GetPayable(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "payable": h.engine.ComputePayablePool()})
}

func (h *Handler) GetEscrow(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "escrow": h.engine.EscrowBalance()})
}

func (h *Handler) GetTransfers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "transfers": nonNil(h.engine.Transfers())})
}

func (h *Handler) GetPendingPayouts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "payouts": nonNil(h.engine.PendingPayouts())})
}

func (h *Handler) StartSettling(c *gin.Context) {
	var req startSettlingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	share := betting.HouseShare(h.engine.GetBetsTally(), h.engine.ComputePayablePool(), h.houseSharePercent)
	if req.HouseShare != nil {
		share = *req.HouseShare
	}
	err := h.engine.StartSettling(c.Request.Context(), caller(c), share)
	h.respond(c, "StartSettling", http.StatusOK, err, gin.H{"house_share": share})
}

func (h *Handler) FinalizeSettled(c *gin.Context) {
	settled, err := h.engine.FinalizeSettled(c.Request.Context(), caller(c))
	h.respond(c, "FinalizeSettled", http.StatusOK, err, gin.H{"settled": settled})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
