package v1

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaydesk/relaydesk/plugin/surfaces"
)

const maxSurfaceBodyBytes = 64 << 10

// handleWebSurfaceEvent receives a message from the web widget. The
// request is verified and parsed synchronously; the turn itself runs
// asynchronously so the widget gets its ack inside its own timeout.
func (s *APIV1Service) handleWebSurfaceEvent(c echo.Context) error {
	return s.handleSurfaceEvent(c, surfaces.PlatformWeb)
}

// handleTelegramSurfaceEvent receives a Telegram webhook update. Telegram
// retries any non-200, so parse failures are acked and dropped.
func (s *APIV1Service) handleTelegramSurfaceEvent(c echo.Context) error {
	return s.handleSurfaceEvent(c, surfaces.PlatformTelegram)
}

func (s *APIV1Service) handleSurfaceEvent(c echo.Context, platform surfaces.Platform) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSurfaceBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	event, err := s.SurfaceRouter.HandleInbound(c.Request().Context(), platform, flattenHeaders(c.Request().Header), body)
	switch {
	case errors.Is(err, surfaces.ErrNoChannelForPlatform):
		return echo.NewHTTPError(http.StatusNotFound, "surface not configured")
	case errors.Is(err, surfaces.ErrInvalidSignature):
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	case errors.Is(err, surfaces.ErrInvalidPayload):
		// Telegram redelivers on any error status; a payload this surface
		// cannot use (sticker, join event) is acked and dropped.
		if platform == surfaces.PlatformTelegram {
			return c.NoContent(http.StatusOK)
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process event")
	}

	if !s.floodGate.Allow(string(platform) + ":" + event.ExternalUserID) {
		s.Metrics.RecordWebhookDrop("flood")
		slog.Warn("surface event dropped by flood gate",
			"platform", platform,
			"external_user_id", event.ExternalUserID,
		)
		if platform == surfaces.PlatformTelegram {
			return c.NoContent(http.StatusOK)
		}
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	go func() {
		if err := s.Dispatcher.HandleUserEvent(context.Background(), event); err != nil {
			slog.Error("user turn failed",
				"platform", platform,
				"external_user_id", event.ExternalUserID,
				"error", err,
			)
		}
	}()

	return c.NoContent(http.StatusOK)
}

func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) > 0 {
			flat[key] = values[0]
		}
	}
	return flat
}
