package v1

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/ast"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/relaydesk/relaydesk/store"
)

const (
	defaultSessionPageSize = 50
	maxSessionPageSize     = 200
)

// adminAuth guards the admin API with the configured bearer token.
func (s *APIV1Service) adminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c.Request().Header.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.Profile.AdminToken)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
		}
		return next(c)
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type sessionResponse struct {
	ID                 string              `json:"id"`
	Surface            string              `json:"surface"`
	ExternalUserID     string              `json:"external_user_id"`
	ChannelKey         string              `json:"channel_key"`
	WorkspaceThreadKey string              `json:"workspace_thread_key,omitempty"`
	State              store.State         `json:"state"`
	UserName           string              `json:"user_name,omitempty"`
	UserEmail          string              `json:"user_email,omitempty"`
	EscalationReason   string              `json:"escalation_reason,omitempty"`
	AssignedAgentID    string              `json:"assigned_agent_id,omitempty"`
	AssignedAgentName  string              `json:"assigned_agent_name,omitempty"`
	History            []store.Message     `json:"history,omitempty"`
	PendingSlots       []store.SlotOffer   `json:"pending_slots,omitempty"`
	EscalatedTs        int64               `json:"escalated_ts,omitempty"`
	ClaimedTs          int64               `json:"claimed_ts,omitempty"`
	ClosedTs           int64               `json:"closed_ts,omitempty"`
	CreatedTs          int64               `json:"created_ts"`
	UpdatedTs          int64               `json:"updated_ts"`
}

func convertSession(session *store.Session, withHistory bool) *sessionResponse {
	resp := &sessionResponse{
		ID:                 session.ID,
		Surface:            session.Surface,
		ExternalUserID:     session.ExternalUserID,
		ChannelKey:         session.ChannelKey,
		WorkspaceThreadKey: session.WorkspaceThreadKey,
		State:              session.State,
		UserName:           session.UserName,
		UserEmail:          session.UserEmail,
		EscalationReason:   session.EscalationReason,
		AssignedAgentID:    session.AssignedAgentID,
		AssignedAgentName:  session.AssignedAgentName,
		PendingSlots:       session.PendingSlots,
		EscalatedTs:        session.EscalatedTs,
		ClaimedTs:          session.ClaimedTs,
		ClosedTs:           session.ClosedTs,
		CreatedTs:          session.CreatedTs,
		UpdatedTs:          session.UpdatedTs,
	}
	if withHistory {
		resp.History = session.History
	}
	return resp
}

// handleListSessions lists sessions, optionally narrowed by a CEL filter,
// e.g. `state == 'ESCALATED_UNCLAIMED' && surface == 'web'`.
func (s *APIV1Service) handleListSessions(c echo.Context) error {
	find, err := sessionFilterToFind(c.QueryParam("filter"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	limit := defaultSessionPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = min(parsed, maxSessionPageSize)
	}
	find.Limit = &limit
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		find.Offset = &offset
	}

	sessions, err := s.Store.ListSessions(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list sessions")
	}

	resp := make([]*sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		resp = append(resp, convertSession(session, false))
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": resp})
}

func (s *APIV1Service) handleGetSession(c echo.Context) error {
	id := c.Param("id")
	session, err := s.Store.GetSession(c.Request().Context(), &store.FindSession{ID: &id})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get session")
	}
	if session == nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	return c.JSON(http.StatusOK, convertSession(session, true))
}

func (s *APIV1Service) handleSessionStats(c echo.Context) error {
	stats, err := s.Store.GetSessionStats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get stats")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":     stats.Total,
		"by_state":  stats.ByState,
		"escalated": stats.Escalated,
	})
}

// sessionFilterToFind compiles the CEL filter and lifts its equality
// constraints into the store query. Supported variables: state, surface,
// external_user_id; supported operators: == and &&.
func sessionFilterToFind(filter string) (*store.FindSession, error) {
	find := &store.FindSession{}
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return find, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("state", cel.StringType),
		cel.Variable("surface", cel.StringType),
		cel.Variable("external_user_id", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create CEL environment")
	}

	celAST, issues := env.Compile(filter)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "invalid filter expression: %s", filter)
	}

	if err := applyFilterExpr(celAST.NativeRep().Expr(), find); err != nil {
		return nil, err
	}
	return find, nil
}

func applyFilterExpr(expr ast.Expr, find *store.FindSession) error {
	if expr == nil {
		return errors.New("empty expression")
	}
	if expr.Kind() != ast.CallKind {
		return errors.New("filter must be a comparison expression (e.g., state == 'CLOSED')")
	}

	call := expr.AsCall()
	switch call.FunctionName() {
	case "_&&_":
		for _, arg := range call.Args() {
			if err := applyFilterExpr(arg, find); err != nil {
				return err
			}
		}
		return nil
	case "_==_":
		args := call.Args()
		if len(args) != 2 {
			return errors.New("invalid comparison expression")
		}
		if field, value, ok := identEquality(args[0], args[1]); ok {
			return applyFieldConstraint(field, value, find)
		}
		if field, value, ok := identEquality(args[1], args[0]); ok {
			return applyFieldConstraint(field, value, find)
		}
		return errors.New("filter must compare a known field with a string constant")
	default:
		return errors.Errorf("unsupported operator: %s (only '==' and '&&' are supported)", call.FunctionName())
	}
}

func identEquality(left, right ast.Expr) (string, string, bool) {
	if left.Kind() != ast.IdentKind || right.Kind() != ast.LiteralKind {
		return "", "", false
	}
	value, ok := right.AsLiteral().Value().(string)
	if !ok || value == "" {
		return "", "", false
	}
	return left.AsIdent(), value, true
}

func applyFieldConstraint(field, value string, find *store.FindSession) error {
	switch field {
	case "state":
		state := store.State(value)
		switch state {
		case store.StateActiveAI, store.StateEscalatedUnclaimed, store.StateEscalatedClaimed, store.StateClosed:
		default:
			return errors.Errorf("unknown state: %s", value)
		}
		find.State = &state
	case "surface":
		find.Surface = &value
	case "external_user_id":
		find.ExternalUserID = &value
	default:
		return errors.Errorf("unknown filter field: %s", field)
	}
	return nil
}
