package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	admissiondomain "github.com/smallbiznis/creditgate/internal/admission/domain"
	"github.com/smallbiznis/creditgate/internal/agent"
	"github.com/smallbiznis/creditgate/internal/catalog"
	"github.com/smallbiznis/creditgate/internal/metering"
	usagedomain "github.com/smallbiznis/creditgate/internal/usage/domain"
)

const maxAgentPayloadBytes = 1 << 20

type authorizeRequest struct {
	OperationType string `json:"operation_type"`
	Cost          *int64 `json:"cost"`
}

type recordUsageRequest struct {
	AccountID     string `json:"account_id"`
	OperationType string `json:"operation_type"`
	Cost          *int64 `json:"cost"`
}

type invokeResponse struct {
	OperationType string          `json:"operation_type"`
	State         metering.State  `json:"state"`
	Cost          int64           `json:"cost"`
	Charged       bool            `json:"charged"`
	Flagged       bool            `json:"flagged"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Remaining     *int64          `json:"remaining,omitempty"`
	Result        json.RawMessage `json:"result"`
}

// Authorize answers the paywall question for one prospective operation
// without running it. Anonymous callers consume a free-trial slot here.
func (s *Server) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	cost, err := s.priceOf(c, req.OperationType, req.Cost)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	caller, err := resolveCaller(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	decision, err := s.admissionSvc.Authorize(c.Request.Context(), caller, cost)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Permit {
		AbortWithError(c, decision.Err())
		return
	}

	c.JSON(http.StatusOK, decision)
}

// RecordUsage commits the cost of an operation the gateway already ran.
func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		AbortWithError(c, newValidationError("account_id", "required", "account_id is required"))
		return
	}

	cost, err := s.priceOf(c, req.OperationType, req.Cost)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	receipt, err := s.usageSvc.Record(c.Request.Context(), usagedomain.RecordRequest{
		AccountID:     accountID,
		OperationType: c.GetString("operation_type"),
		Cost:          cost,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

// InvokeAgent runs the whole metered lifecycle against the agent upstream:
// authorize, call the agent, then commit the charge.
func (s *Server) InvokeAgent(c *gin.Context) {
	if !s.agent.Enabled() {
		AbortWithError(c, agent.ErrNotConfigured)
		return
	}

	operationType := catalog.NormalizeOperation(c.Param("operation"))
	if operationType == "" {
		AbortWithError(c, catalog.ErrInvalidOperation)
		return
	}
	c.Set("operation_type", operationType)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxAgentPayloadBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(payload) > 0 && !json.Valid(payload) {
		AbortWithError(c, invalidRequestError())
		return
	}

	caller, err := resolveCaller(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	outcome, err := s.executor.Execute(c.Request.Context(), caller, operationType, func(ctx context.Context) ([]byte, error) {
		return s.agent.Invoke(ctx, operationType, payload)
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := invokeResponse{
		OperationType: outcome.OperationType,
		State:         outcome.State,
		Cost:          outcome.Cost,
		Flagged:       outcome.Flagged(),
		Result:        asJSON(outcome.Result),
	}
	if outcome.Receipt != nil {
		remaining := outcome.Receipt.RemainingAfter
		resp.Charged = true
		resp.TransactionID = outcome.Receipt.TransactionID
		resp.Remaining = &remaining
	} else if caller.IsAnonymous() {
		remaining := outcome.Decision.Remaining
		resp.Remaining = &remaining
	}

	c.JSON(http.StatusOK, resp)
}

// PeekFreeTrial reports the anonymous caller's free-trial usage without
// consuming a slot.
func (s *Server) PeekFreeTrial(c *gin.Context) {
	identity, err := anonymousIdentity(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.quotaSvc.Peek(c.Request.Context(), identity)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"used":      result.Used,
		"remaining": result.Remaining,
		"limit":     result.Limit,
		"allowed":   result.Allowed,
	})
}

// priceOf resolves the credit cost: an explicit cost wins, otherwise the
// catalog price of the operation.
func (s *Server) priceOf(c *gin.Context, operationType string, explicit *int64) (int64, error) {
	code, cost, err := s.catalog.Cost(operationType)
	if err != nil {
		return 0, err
	}
	c.Set("operation_type", code)
	if explicit == nil {
		return cost, nil
	}
	if *explicit < 0 {
		return 0, admissiondomain.ErrInvalidCost
	}
	return *explicit, nil
}

func asJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return json.RawMessage(quoted)
}
