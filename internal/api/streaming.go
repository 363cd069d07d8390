package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// publicChannels may be followed without a token
var publicChannels = []string{"timeline:public", "hashtag:", "timeline:group:"}

// streamingHandler relays broadcast channels over a websocket. Each
// stream query parameter names one channel.
func (r *Router) streamingHandler(c *gin.Context) {
	channels := c.QueryArray("stream")
	if len(channels) == 0 {
		abortWithError(c, NewError(http.StatusBadRequest, "no stream requested"))
		return
	}
	caller, _ := callerID(c)
	for _, ch := range channels {
		ok, err := r.mayFollow(c.Request.Context(), ch, caller)
		if err != nil {
			r.logger.Error("Failed to authorize stream", zap.String("channel", ch), zap.Error(err))
			abortWithError(c, NewError(http.StatusInternalServerError, "stream authorization failed"))
			return
		}
		if !ok {
			abortWithError(c, NewError(http.StatusForbidden, "stream "+ch+" is not available"))
			return
		}
	}

	if err := r.streamer.Serve(c.Writer, c.Request, channels); err != nil {
		r.logger.Debug("Stream not started", zap.Strings("channels", channels), zap.Error(err))
		// a failed upgrade has already answered the client
		if !c.Writer.Written() {
			abortWithError(c, NewError(http.StatusServiceUnavailable, "streaming unavailable"))
		}
	}
}

// listChannel prefixes the mirror of a list timeline
const listChannel = "timeline:list:"

// mayFollow allows public channels to anyone, and the home timeline and
// list timelines to their owner
func (r *Router) mayFollow(ctx context.Context, channel string, caller int64) (bool, error) {
	for _, prefix := range publicChannels {
		if strings.HasPrefix(channel, prefix) {
			return true, nil
		}
	}
	if caller == 0 {
		return false, nil
	}
	if rest, ok := strings.CutPrefix(channel, listChannel); ok {
		listID, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return false, nil
		}
		owner, err := r.accounts.ListOwner(ctx, listID)
		return owner == caller, err
	}
	return channel == "timeline:"+strconv.FormatInt(caller, 10), nil
}
