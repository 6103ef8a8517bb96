package httphandlers

import (
	"io"
	"strconv"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/notifications"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

const lastEventIDHeader = "Last-Event-ID"

// StreamEvents streams marketplace events as server-sent events until the client disconnects.
// A client reconnecting with Last-Event-ID receives the retained events it missed, or 410
// if they are gone. A stream that falls behind ends with an error event
func (h *HTTPHandler) StreamEvents(ctx *gin.Context) {
	sub, err := h.subscribe(ctx.GetHeader(lastEventIDHeader))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	defer h.bus.Unsubscribe(sub)

	h.log.Debugf("event stream %s opened by %s", sub.ID(), ctx.ClientIP())

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")
	ctx.Header("Content-Type", "text/event-stream")
	ctx.Writer.WriteHeaderNow()
	ctx.Writer.Flush()

	done := ctx.Request.Context().Done()
	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case env, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					ctx.Render(-1, sse.Event{Event: "error", Data: gin.H{"error": err.Error()}})
				}
				return false
			}
			ev := mapEvent(env)
			ctx.Render(-1, sse.Event{
				Id:    strconv.FormatUint(ev.Seq, 10),
				Event: ev.Type,
				Data:  ev,
			})
			return true
		}
	})

	h.log.Debugf("event stream %s closed", sub.ID())
}

func (h *HTTPHandler) subscribe(lastEventID string) (*notifications.Subscription, error) {
	if lastEventID == "" {
		return h.bus.Subscribe(), nil
	}
	seq, err := strconv.ParseUint(lastEventID, 10, 64)
	if err != nil {
		return nil, lib.WrapError(ErrInvalidLastEventID, err)
	}
	return h.bus.SubscribeFrom(seq)
}
