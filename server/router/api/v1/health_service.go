package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaydesk/relaydesk/internal/version"
)

// handleHealthz reports process liveness and which optional subsystems
// are configured.
func (s *APIV1Service) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    version.GetCurrentVersion(s.Profile.Mode),
		"ai":         s.Profile.IsAIEnabled(),
		"workspace":  s.Profile.SlackBotToken != "" && s.Profile.SlackSupportChannel != "",
		"scheduling": s.Profile.GoogleCalendarID != "" && s.Profile.GoogleCredentials != "",
	})
}

// handleReadyz reports readiness: the store must answer.
func (s *APIV1Service) handleReadyz(c echo.Context) error {
	if _, err := s.Store.GetSessionStats(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
