// Package v1 wires the HTTP surface of the dispatcher: surface webhooks,
// workspace webhooks, the admin API and the operational endpoints.
package v1

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/relaydesk/relaydesk/ai/answer"
	"github.com/relaydesk/relaydesk/ai/embedding"
	"github.com/relaydesk/relaydesk/ai/intent"
	"github.com/relaydesk/relaydesk/ai/llm"
	"github.com/relaydesk/relaydesk/calendar/google"
	"github.com/relaydesk/relaydesk/dispatcher"
	"github.com/relaydesk/relaydesk/dispatcher/metrics"
	"github.com/relaydesk/relaydesk/internal/profile"
	"github.com/relaydesk/relaydesk/plugin/markdown"
	"github.com/relaydesk/relaydesk/plugin/surfaces"
	"github.com/relaydesk/relaydesk/plugin/surfaces/telegram"
	"github.com/relaydesk/relaydesk/plugin/surfaces/web"
	"github.com/relaydesk/relaydesk/plugin/workspace"
	slackws "github.com/relaydesk/relaydesk/plugin/workspace/slack"
	"github.com/relaydesk/relaydesk/scheduling"
	"github.com/relaydesk/relaydesk/store"
)

type APIV1Service struct {
	Profile         *profile.Profile
	Store           *store.Store
	MarkdownService markdown.Service
	Metrics         *metrics.Exporter

	Dispatcher *dispatcher.Dispatcher
	Janitor    *dispatcher.Janitor

	SurfaceRouter *surfaces.SurfaceRouter

	floodGate          *surfaces.FloodGate
	embedder           embedding.Service
	slackSigningSecret string
}

// NewAPIV1Service assembles the dispatcher and its component services from
// the profile. Missing integrations degrade with a warning instead of
// failing startup: an unconfigured workspace keeps sessions AI-active and
// an unconfigured calendar escalates scheduling requests.
func NewAPIV1Service(ctx context.Context, p *profile.Profile, st *store.Store) *APIV1Service {
	markdownService := markdown.NewService()

	service := &APIV1Service{
		Profile:            p,
		Store:              st,
		MarkdownService:    markdownService,
		SurfaceRouter:      surfaces.NewSurfaceRouter(),
		floodGate:          surfaces.NewFloodGate(0, 0),
		slackSigningSecret: p.SlackSigningSecret,
	}

	service.Metrics = metrics.NewExporter(metrics.Config{
		ActiveSessions: func() float64 {
			stats, err := st.GetSessionStats(context.Background())
			if err != nil {
				return 0
			}
			var active int64
			for _, state := range store.ActiveStates {
				active += stats.ByState[state]
			}
			return float64(active)
		},
	})

	llmService := service.buildLLM(p)
	intentLLM := service.buildIntentLLM(p, llmService)
	service.embedder = service.buildEmbedder(p)

	classifier := intent.NewService(intent.NewRuleMatcher(intent.Config{}), intentLLM)

	var answerer dispatcher.Answerer
	if llmService != nil && service.embedder != nil {
		answerer = answer.NewService(st, llmService, service.embedder, nil)
	} else {
		slog.Warn("answering disabled, information questions will escalate",
			"llm", llmService != nil,
			"embedding", service.embedder != nil,
		)
		answerer = offlineAnswerer{}
	}

	workspaceAdapter, names := service.buildWorkspace(p)
	scheduler := service.buildScheduler(ctx, p)
	service.registerSurfaces(p)

	config := dispatcher.ConfigFromProfile(p)
	service.Dispatcher = dispatcher.New(dispatcher.Dependencies{
		Store:      st,
		Classifier: classifier,
		Answerer:   answerer,
		Scheduler:  scheduler,
		Workspace:  workspaceAdapter,
		Surface:    service.SurfaceRouter,
		Markdown:   markdownService,
		Names:      names,
		Metrics:    service.Metrics,
	}, config)
	service.Janitor = dispatcher.NewJanitor(st, workspaceAdapter, service.Dispatcher.Relay(), config)

	return service
}

func (s *APIV1Service) buildLLM(p *profile.Profile) llm.Service {
	if !p.IsAIEnabled() {
		slog.Info("AI features disabled: no LLM API key configured")
		return nil
	}

	llmService, err := llm.NewService(&llm.Config{
		Provider: p.LLMProvider,
		Model:    p.LLMModel,
		APIKey:   p.LLMAPIKey,
		BaseURL:  p.LLMBaseURL,
		Timeout:  p.LLMTimeout,
	})
	if err != nil {
		slog.Warn("failed to initialize LLM service",
			"provider", p.LLMProvider,
			"error", err,
		)
		return nil
	}

	slog.Info("LLM service initialized", "provider", p.LLMProvider, "model", p.LLMModel)

	// Warm the connection asynchronously to shave first-turn latency.
	go func() {
		warmupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		llmService.Warmup(warmupCtx)
	}()
	return llmService
}

// buildIntentLLM constructs the semantic-pass classifier model. It falls
// back to the main LLM when no dedicated intent model is configured or its
// construction fails.
func (s *APIV1Service) buildIntentLLM(p *profile.Profile, fallback llm.Service) llm.Service {
	if p.IntentAPIKey == "" {
		return fallback
	}
	if p.IntentProvider == p.LLMProvider && p.IntentModel == p.LLMModel && p.IntentAPIKey == p.LLMAPIKey {
		return fallback
	}

	intentLLM, err := llm.NewService(&llm.Config{
		Provider: p.IntentProvider,
		Model:    p.IntentModel,
		APIKey:   p.IntentAPIKey,
		BaseURL:  p.IntentBaseURL,
		Timeout:  p.LLMTimeout,
	})
	if err != nil {
		slog.Warn("failed to initialize intent LLM, falling back to main LLM", "error", err)
		return fallback
	}
	slog.Info("intent LLM initialized", "provider", p.IntentProvider, "model", p.IntentModel)
	return intentLLM
}

func (s *APIV1Service) buildEmbedder(p *profile.Profile) embedding.Service {
	if p.EmbeddingAPIKey == "" {
		slog.Info("embedding disabled: no API key configured")
		return nil
	}

	embedder, err := embedding.NewService(&embedding.Config{
		Provider:   p.EmbeddingProvider,
		Model:      p.EmbeddingModel,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Dimensions: p.EmbeddingDimensions,
		Timeout:    p.EmbeddingTimeout,
	})
	if err != nil {
		slog.Warn("failed to initialize embedding service", "error", err)
		return nil
	}
	return embedder
}

func (s *APIV1Service) buildWorkspace(p *profile.Profile) (workspace.Adapter, dispatcher.AgentDirectory) {
	if p.SlackBotToken == "" || p.SlackSupportChannel == "" {
		slog.Warn("agent workspace disabled: Slack bot token or support channel not configured",
			"note", "escalations will fail and sessions stay AI-active",
		)
		return unconfiguredWorkspace{}, nil
	}

	adapter := slackws.NewAdapter(slackws.NewClient(p.SlackBotToken, p.SlackSupportChannel))
	slog.Info("slack workspace initialized", "channel", p.SlackSupportChannel)
	return adapter, adapter
}

func (s *APIV1Service) buildScheduler(ctx context.Context, p *profile.Profile) dispatcher.Scheduler {
	if p.GoogleCalendarID == "" || p.GoogleCredentials == "" {
		slog.Info("scheduling disabled: calendar not configured",
			"note", "demo requests will escalate to the workspace",
		)
		return unavailableScheduler{}
	}

	credentials, err := os.ReadFile(p.GoogleCredentials)
	if err != nil {
		slog.Warn("failed to read calendar credentials", "path", p.GoogleCredentials, "error", err)
		return unavailableScheduler{}
	}

	client, err := google.NewClient(ctx, &google.Config{
		CalendarID:      p.GoogleCalendarID,
		CredentialsJSON: credentials,
	})
	if err != nil {
		slog.Warn("failed to initialize calendar client", "error", err)
		return unavailableScheduler{}
	}

	schedulingConfig := scheduling.DefaultConfig()
	schedulingConfig.Timezone = p.ScheduleTimezone
	schedulingConfig.OpenHour = p.ScheduleOpenHour
	schedulingConfig.CloseHour = p.ScheduleCloseHour

	scheduler, err := scheduling.NewService(client, schedulingConfig)
	if err != nil {
		slog.Warn("failed to initialize scheduling service", "error", err)
		return unavailableScheduler{}
	}
	slog.Info("scheduling initialized",
		"calendar", p.GoogleCalendarID,
		"timezone", p.ScheduleTimezone,
	)
	return scheduler
}

func (s *APIV1Service) registerSurfaces(p *profile.Profile) {
	if p.WebJWTSecret != "" && p.WebCallbackURL != "" {
		channel, err := web.NewChannel(&web.Config{
			Secret:      p.WebJWTSecret,
			CallbackURL: p.WebCallbackURL,
		})
		if err != nil {
			slog.Warn("failed to initialize web surface", "error", err)
		} else {
			s.SurfaceRouter.Register(channel)
			slog.Info("web surface initialized")
		}
	} else {
		slog.Info("web surface disabled: secret or callback URL not configured")
	}

	if p.TelegramBotToken != "" {
		channel, err := telegram.NewChannel(&telegram.Config{BotToken: p.TelegramBotToken})
		if err != nil {
			slog.Warn("failed to initialize telegram surface", "error", err)
		} else {
			s.SurfaceRouter.Register(channel)
			slog.Info("telegram surface initialized")
		}
	}
}

// RegisterRoutes attaches all HTTP endpoints to the Echo instance. Admin
// routes are only mounted when an admin token is configured.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))

	e.POST("/webhooks/surfaces/web", s.handleWebSurfaceEvent)
	e.POST("/webhooks/surfaces/telegram", s.handleTelegramSurfaceEvent)
	e.POST("/webhooks/slack/events", s.handleSlackEvents)
	e.POST("/webhooks/slack/interactions", s.handleSlackInteractions)

	if s.Profile.AdminToken == "" {
		slog.Warn("admin API disabled: no admin token configured")
		return
	}
	admin := e.Group("/api/v1/admin", s.adminAuth)
	admin.GET("/sessions", s.handleListSessions)
	admin.GET("/sessions/:id", s.handleGetSession)
	admin.GET("/stats", s.handleSessionStats)
	admin.GET("/knowledge", s.handleListKnowledge)
	admin.POST("/knowledge", s.handleCreateKnowledge)
	admin.DELETE("/knowledge", s.handleDeleteKnowledge)
}
