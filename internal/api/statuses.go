package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/fanout"
)

// publishHandler creates a status for the authenticated account. Retries
// carrying the same Idempotency-Key return the status created first.
func (r *Router) publishHandler(c *gin.Context) {
	ctx := c.Request.Context()
	id, _ := callerID(c)
	author, err := r.accounts.AccountByID(ctx, id)
	if err != nil {
		r.logger.Error("Failed to load caller", zap.Int64("account_id", id), zap.Error(err))
		abortWithError(c, NewError(http.StatusInternalServerError, "internal error"))
		return
	}
	if author == nil || !author.Local() {
		abortWithError(c, NewError(http.StatusUnauthorized, "unknown account"))
		return
	}

	var req builder.LocalPost
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewError(http.StatusBadRequest, "invalid request body"))
		return
	}

	res, err := r.ingester.PublishLocal(ctx, author, req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		abortWithError(c, fromIngest(err))
		return
	}
	if res.Status == nil {
		abortWithError(c, NewError(http.StatusNotFound, "status no longer exists"))
		return
	}
	c.JSON(http.StatusOK, fanout.Render(&fanout.Post{Status: res.Status, Author: author, Tags: res.Status.Tags}))
}
