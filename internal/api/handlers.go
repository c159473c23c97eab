package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eshaffer321/recon-backend/internal/api/dto"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "healthy"})
}

// pathUUID parses a UUID path parameter, writing a 400 on failure.
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) getCandidates(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	result, err := s.matcher.GetCandidates(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("get candidates failed", "line_item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to fetch candidates"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) autoMatchLineItem(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	result, err := s.matcher.AutoMatchLineItem(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("auto match failed", "line_item_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "auto match failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) autoMatchInvoice(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	summary, err := s.matcher.AutoMatchInvoice(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("invoice auto match failed", "invoice_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "invoice auto match failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) applyAutoMatchesForInvoice(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	summary, err := s.matcher.ApplyAutoMatchesForInvoice(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("apply auto matches failed", "invoice_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "apply auto matches failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) applyMatch(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req dto.ApplyMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid transaction_id"})
		return
	}
	if err := s.matcher.ApplyAutoMatch(c.Request.Context(), id, txID, req.Confidence); err != nil {
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{Success: true})
}

func (s *Server) linkLineItem(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req dto.LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	txID, err := uuid.Parse(req.TransactionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid transaction_id"})
		return
	}
	if err := s.matcher.LinkLineItemToTransaction(c.Request.Context(), id, txID, req.Allocation); err != nil {
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{Success: true})
}

func (s *Server) unlinkLineItem(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.matcher.UnlinkLineItemFromTransaction(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{Success: true})
}

func (s *Server) runConsolidation(c *gin.Context) {
	var req dto.ConsolidationRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid owner_id"})
		return
	}
	summary, err := s.consolidator.Run(c.Request.Context(), ownerID)
	if err != nil {
		s.logger.Error("consolidation run failed", "owner_id", ownerID, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "consolidation run failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listConsolidationResults(c *gin.Context) {
	ownerID, err := uuid.Parse(c.Query("owner_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid owner_id"})
		return
	}
	results, err := s.consolidator.Results(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to list results"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) approveConsolidation(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.consolidator.Approve(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{Success: true})
}

func (s *Server) rejectConsolidation(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := s.consolidator.Reject(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.StatusResponse{Success: true})
}

// learnAlias records a vendor alias learned from a confirmed manual
// match, so future statement text resolves to the vendor directly.
func (s *Server) learnAlias(c *gin.Context) {
	var req dto.LearnAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid owner_id"})
		return
	}
	existing, err := s.repo.GetVendorAliases(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to load aliases"})
		return
	}
	alias := s.learner.Propose(ownerID, req.VendorName, req.TransactionDescription, existing)
	if alias == nil {
		// Nothing new to learn; an equivalent alias already exists.
		c.JSON(http.StatusOK, dto.StatusResponse{Success: false})
		return
	}
	if err := s.repo.SaveVendorAlias(c.Request.Context(), alias); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to save alias"})
		return
	}
	c.JSON(http.StatusCreated, alias)
}
