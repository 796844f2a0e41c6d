package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pairscout/challenge"
	"github.com/use-agent/pairscout/models"
)

// ChallengeStatus returns a handler for GET /api/v1/challenge.
func ChallengeStatus(op *challenge.ChannelOperator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, statusResponse(op.Status()))
	}
}

// ChallengeAck returns a handler for POST /api/v1/challenge/ack. It releases
// a run suspended in manual wait; 409 when nothing is waiting.
func ChallengeAck(op *challenge.ChannelOperator) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, ok := op.Confirm()
		if !ok {
			c.JSON(http.StatusConflict, models.ChallengeStatusResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeNoChallenge,
					Message: "no run is waiting for challenge confirmation",
				},
			})
			return
		}
		resp := statusResponse(st)
		resp.Pending = false
		c.JSON(http.StatusOK, resp)
	}
}

func statusResponse(st challenge.PendingStatus) models.ChallengeStatusResponse {
	resp := models.ChallengeStatusResponse{Pending: st.Pending, Prompt: st.Prompt}
	if !st.Since.IsZero() {
		resp.Since = st.Since.UTC().Format(time.RFC3339)
	}
	return resp
}
