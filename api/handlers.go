package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/dualarb/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

type executeRequest struct {
	ExecutionType types.ExecutionType `json:"executionType"`
}

type executeResponse struct {
	types.ExecutionRecord
	FailedLegs []types.LegError `json:"failed_legs,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listPairs(c *gin.Context) {
	c.JSON(http.StatusOK, s.detector.Pairs())
}

func (s *Server) scanPair(c *gin.Context) {
	opp, err := s.detector.Scan(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, opp)
}

func (s *Server) executePair(c *gin.Context) {
	req := executeRequest{ExecutionType: types.ExecutionManual}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
	}
	switch req.ExecutionType {
	case "":
		req.ExecutionType = types.ExecutionManual
	case types.ExecutionManual, types.ExecutionAuto:
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown execution type " + string(req.ExecutionType)})
		return
	}

	record, err := s.detector.ExecuteArbitrage(c.Request.Context(), c.Param("id"), req.ExecutionType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, executeResponse{ExecutionRecord: record, FailedLegs: record.FailedLegs()})
}

func (s *Server) listWallets(c *gin.Context) {
	if s.wallets == nil {
		c.JSON(http.StatusOK, []types.WalletState{})
		return
	}
	wallets, err := s.wallets.Wallets(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if wallets == nil {
		wallets = []types.WalletState{}
	}
	c.JSON(http.StatusOK, wallets)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrUnknownPair):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidSlippage):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrBelowThreshold):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrExecutionInProgress):
		return http.StatusConflict
	case errors.Is(err, types.ErrRPCUnavailable), errors.Is(err, types.ErrPairNotFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
