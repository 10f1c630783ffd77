package handlers

import (
	"encoding/json"
	"errors"

	"github.com/valyala/fasthttp"

	"datalens/internal/event"
	"datalens/internal/tracker"
)

type trackEventRequest struct {
	EventType string         `json:"event_type"`
	EventData map[string]any `json:"event_data"`
	SessionID string         `json:"session_id"`
	UserID    int64          `json:"user_id"`
}

type productViewRequest struct {
	ProductID int64  `json:"product_id"`
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
}

func viewer(ctx *fasthttp.RequestCtx, sessionID string, userID int64) tracker.Viewer {
	if userID < 0 {
		userID = 0
	}
	return tracker.Viewer{
		SessionID: sessionID,
		UserID:    userID,
		IPAddress: ctx.RemoteIP().String(),
		UserAgent: string(ctx.UserAgent()),
	}
}

// TrackEvent records one storefront event. Only a malformed payload is
// reported to the caller; storage problems still answer ok.
func TrackEvent(t *tracker.Tracker) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req trackEventRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.EventType == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "event_type is required")
			return
		}

		ack, err := t.TrackEvent(ctx, event.Type(req.EventType), req.EventData, viewer(ctx, req.SessionID, req.UserID))
		if errors.Is(err, event.ErrInvalidEvent) {
			errResponse(ctx, fasthttp.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "tracking failed")
			return
		}

		jsonResponse(ctx, map[string]any{
			"status":     "ok",
			"stored":     ack.Stored,
			"session_id": ack.SessionID,
		})
	}
}

// TrackProductView counts one product page view.
func TrackProductView(t *tracker.Tracker) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var req productViewRequest
		if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ProductID <= 0 {
			errResponse(ctx, fasthttp.StatusBadRequest, "product_id must be positive")
			return
		}

		counted := t.TrackProductView(ctx, req.ProductID, viewer(ctx, req.SessionID, req.UserID))
		jsonResponse(ctx, map[string]any{
			"status":  "ok",
			"counted": counted,
		})
	}
}
