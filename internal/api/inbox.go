package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/ingest"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

const maxInboxBytes = 1 << 20

func (r *Router) inboxHandler(c *gin.Context) {
	r.receive(c)
}

func (r *Router) userInboxHandler(c *gin.Context) {
	account, err := r.accounts.LocalAccountByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		r.logger.Error("Failed to look up inbox owner", zap.String("username", c.Param("username")), zap.Error(err))
		abortWithError(c, NewError(http.StatusInternalServerError, "internal error"))
		return
	}
	if account == nil || account.Suspended {
		abortWithError(c, NewError(http.StatusNotFound, "no such inbox"))
		return
	}
	r.receive(c)
}

// receive accepts one delivered activity. Any outcome other than an error
// is acknowledged with 202 so the sender stops retrying.
func (r *Router) receive(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "api.inbox")
	defer span.End()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxInboxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, NewError(http.StatusRequestEntityTooLarge, "activity too large"))
			return
		}
		abortWithError(c, NewError(http.StatusBadRequest, "unreadable body"))
		return
	}

	res, err := r.ingester.Ingest(ctx, ingest.Delivery{Body: body})
	if err != nil {
		if ingest.IsRejected(err) {
			r.logger.Debug("Activity rejected", zap.Error(err))
		}
		abortWithError(c, fromIngest(err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"outcome": res.Outcome.String()})
}
