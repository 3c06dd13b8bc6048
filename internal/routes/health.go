package routes

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xyz-asif/floodreport/internal/app"
	"github.com/xyz-asif/floodreport/internal/pkg/response"
	"github.com/xyz-asif/floodreport/internal/pkg/sheets"
)

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status      string        `json:"status" example:"ok"`
	Time        int64         `json:"time"`
	Ledger      string        `json:"ledger" example:"sqlite"`
	LedgerError string        `json:"ledgerError,omitempty"`
	Mirror      *sheets.State `json:"mirror,omitempty"`
	MirrorMode  string        `json:"mirrorMode" example:"sync"`
}

// Health godoc
// @Summary Service health
// @Description Reports ledger reachability and the spreadsheet mirror state. A
// @Description mirror outage degrades but does not fail the check.
// @Tags system
// @Produce json
// @Success 200 {object} response.SuccessResponse{data=HealthStatus}
// @Failure 503 {object} response.SuccessResponse{data=HealthStatus}
// @Router /health [get]
func Health(a *app.App) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := HealthStatus{
			Status:     "ok",
			Time:       a.Clock.Now().Unix(),
			Ledger:     a.Config.LedgerDriver,
			MirrorMode: a.Config.MirrorMode,
		}

		if a.Mirror != nil {
			state := a.Mirror.State()
			status.Mirror = &state
			if !state.Online {
				status.Status = "degraded"
			}
		} else {
			status.MirrorMode = "disabled"
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := a.Ledger.Ping(ctx); err != nil {
			status.Status = "unavailable"
			status.LedgerError = err.Error()
			response.ServiceUnavailable(c, status)
			return
		}
		response.Success(c, status)
	}
}
