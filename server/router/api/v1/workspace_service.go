package v1

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	slackws "github.com/relaydesk/relaydesk/plugin/workspace/slack"
)

const maxSlackBodyBytes = 256 << 10

// handleSlackEvents receives Slack Events API deliveries: the one-time URL
// verification challenge and agent replies in ticket threads. Slack
// retries non-200 responses, so processing happens after the ack.
func (s *APIV1Service) handleSlackEvents(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSlackBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	if err := slackws.VerifyRequest(s.slackSigningSecret, c.Request().Header, body); err != nil {
		slog.Warn("slack event signature rejected", "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	inbound, err := slackws.ParseEventPayload(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}

	if inbound.Challenge != "" {
		return c.String(http.StatusOK, inbound.Challenge)
	}
	if inbound.Reply == nil {
		return c.NoContent(http.StatusOK)
	}

	reply := inbound.Reply
	go func() {
		if err := s.Dispatcher.HandleWorkspaceReply(context.Background(), reply); err != nil {
			slog.Error("workspace reply failed",
				"thread_key", reply.ThreadKey,
				"agent_id", reply.AgentID,
				"error", err,
			)
		}
	}()
	return c.NoContent(http.StatusOK)
}

// handleSlackInteractions receives button presses on ticket cards. The
// payload arrives as a form-encoded `payload` field.
func (s *APIV1Service) handleSlackInteractions(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSlackBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	if err := slackws.VerifyRequest(s.slackSigningSecret, c.Request().Header, body); err != nil {
		slog.Warn("slack interaction signature rejected", "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	values, err := parseForm(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid form body")
	}
	payload := values.Get("payload")
	if payload == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing payload field")
	}

	event, err := slackws.ParseInteractionPayload([]byte(payload))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid interaction payload")
	}
	if event == nil {
		return c.NoContent(http.StatusOK)
	}

	go func() {
		if err := s.Dispatcher.HandleWorkspaceButton(context.Background(), event); err != nil {
			slog.Error("workspace button failed",
				"thread_key", event.ThreadKey,
				"action", event.Action,
				"agent_id", event.AgentID,
				"error", err,
			)
		}
	}()
	return c.NoContent(http.StatusOK)
}

func parseForm(body []byte) (url.Values, error) {
	return url.ParseQuery(string(body))
}
