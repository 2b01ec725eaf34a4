package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/banachtech/svi-surface/db"
	"github.com/banachtech/svi-surface/svi"
)

type paramResponse struct {
	Key string `json:"key"`
	svi.Params
}

func (server *Server) listParams(c *gin.Context) {
	records := server.params.Records()
	out := make([]paramResponse, len(records))
	for i, r := range records {
		out[i] = paramResponse{Key: r.Key, Params: r.Params}
	}
	c.JSON(http.StatusOK, gin.H{"params": out})
}

type volRequest struct {
	T *float64 `form:"t" binding:"required"`
	X *float64 `form:"x" binding:"required"`
}

type volResponse struct {
	T   float64 `json:"t"`
	X   float64 `json:"x"`
	Vol float64 `json:"vol"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, db.ErrMaturityNotFound), errors.Is(err, svi.ErrEmptySurface):
		return http.StatusNotFound
	case errors.Is(err, svi.ErrOutOfDomain):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// sliceVol evaluates the slice stored at exactly maturity t.
func (server *Server) sliceVol(c *gin.Context) {
	var req volRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	p, err := server.params.FindByMaturity(*req.T, server.tolerance)
	if err != nil {
		c.AbortWithStatusJSON(statusOf(err), errorResponse(err))
		return
	}
	vol, err := p.Vol(*req.X)
	if err != nil {
		c.AbortWithStatusJSON(statusOf(err), errorResponse(err))
		return
	}
	c.JSON(http.StatusOK, volResponse{T: *req.T, X: *req.X, Vol: vol})
}

// surfaceVol interpolates across fitted maturities.
func (server *Server) surfaceVol(c *gin.Context) {
	var req volRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse(err))
		return
	}
	vol, err := server.surface.VolAt(*req.T, *req.X)
	if err != nil {
		c.AbortWithStatusJSON(statusOf(err), errorResponse(err))
		return
	}
	c.JSON(http.StatusOK, volResponse{T: *req.T, X: *req.X, Vol: vol})
}
