package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol).
	// All providers (zai, deepseek, openai, siliconflow, ollama) use the same config.
	LLMProvider string // Provider identifier: zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	LLMAPIKey   string // Unified LLM API key
	LLMBaseURL  string // Unified LLM base URL (optional, has default per provider)
	LLMModel    string // Model name: glm-4.7, deepseek-chat, gpt-4o, etc.
	LLMTimeout  int    // LLM request timeout in seconds (default: 25)

	// Intent classifier configuration. Falls back to the unified LLM
	// configuration when left empty.
	IntentProvider string
	IntentModel    string
	IntentAPIKey   string
	IntentBaseURL  string

	// Embedding configuration for knowledge retrieval.
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	EmbeddingTimeout    int // seconds

	// Agent workspace (Slack) configuration.
	SlackBotToken       string
	SlackSigningSecret  string
	SlackSupportChannel string

	// User surface configuration.
	WebWebhookSecret string // HMAC secret for the inbound web-widget webhook
	WebCallbackURL   string // outbound delivery endpoint of the web widget backend
	WebCallbackToken string
	WebJWTSecret     string // signs short-lived widget session tokens
	TelegramBotToken string

	// Scheduling and calendar configuration.
	GoogleCalendarID  string
	GoogleCredentials string // path to a service account JSON file
	ScheduleTimezone  string
	ScheduleOpenHour  int
	ScheduleCloseHour int

	// Dispatcher tunables.
	UnclaimedTTLMinutes int // 0 disables the unclaimed-ticket janitor
	TurnTimeoutSeconds  int

	// Other configurations
	AdminToken  string
	Mode        string
	DSN         string
	Driver      string
	Version     string
	InstanceURL string
	Addr        string
	Data        string
	Port        int
	AIEnabled   bool
}

// Provider default configurations for LLM.
// Used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-5.2",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.LLMProvider = getEnvOrDefault("RELAYDESK_AI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("RELAYDESK_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("RELAYDESK_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("RELAYDESK_AI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("RELAYDESK_AI_LLM_TIMEOUT_SECONDS", 25)

	// AI is enabled if API key is configured
	p.AIEnabled = p.LLMAPIKey != ""

	// Validate and apply provider defaults if not explicitly set
	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	// Intent classifier configuration. Empty values fall back to the
	// unified LLM configuration above.
	p.IntentProvider = getEnvOrDefault("RELAYDESK_AI_INTENT_PROVIDER", p.LLMProvider)
	p.IntentModel = getEnvOrDefault("RELAYDESK_AI_INTENT_MODEL", p.LLMModel)
	p.IntentAPIKey = getEnvOrDefault("RELAYDESK_AI_INTENT_API_KEY", p.LLMAPIKey)
	p.IntentBaseURL = getEnvOrDefault("RELAYDESK_AI_INTENT_BASE_URL", p.LLMBaseURL)

	// Embedding configuration
	p.EmbeddingProvider = getEnvOrDefault("RELAYDESK_AI_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingModel = getEnvOrDefault("RELAYDESK_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = getEnvOrDefault("RELAYDESK_AI_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("RELAYDESK_AI_EMBEDDING_BASE_URL", "https://api.openai.com/v1")
	p.EmbeddingDimensions = getEnvOrDefaultInt("RELAYDESK_AI_EMBEDDING_DIMENSIONS", 1536)
	p.EmbeddingTimeout = getEnvOrDefaultInt("RELAYDESK_AI_EMBEDDING_TIMEOUT_SECONDS", 3)

	// Agent workspace configuration
	p.SlackBotToken = getEnvOrDefault("RELAYDESK_SLACK_BOT_TOKEN", "")
	p.SlackSigningSecret = getEnvOrDefault("RELAYDESK_SLACK_SIGNING_SECRET", "")
	p.SlackSupportChannel = getEnvOrDefault("RELAYDESK_SLACK_SUPPORT_CHANNEL", "")

	// User surface configuration
	p.WebWebhookSecret = getEnvOrDefault("RELAYDESK_WEB_WEBHOOK_SECRET", "")
	p.WebCallbackURL = getEnvOrDefault("RELAYDESK_WEB_CALLBACK_URL", "")
	p.WebCallbackToken = getEnvOrDefault("RELAYDESK_WEB_CALLBACK_TOKEN", "")
	p.WebJWTSecret = getEnvOrDefault("RELAYDESK_WEB_JWT_SECRET", "")
	p.TelegramBotToken = getEnvOrDefault("RELAYDESK_TELEGRAM_BOT_TOKEN", "")

	// Scheduling configuration
	p.GoogleCalendarID = getEnvOrDefault("RELAYDESK_CALENDAR_ID", "")
	p.GoogleCredentials = getEnvOrDefault("RELAYDESK_GOOGLE_CREDENTIALS", "")
	p.ScheduleTimezone = getEnvOrDefault("RELAYDESK_SCHEDULE_TIMEZONE", "America/New_York")
	p.ScheduleOpenHour = getEnvOrDefaultInt("RELAYDESK_SCHEDULE_OPEN_HOUR", 9)
	p.ScheduleCloseHour = getEnvOrDefaultInt("RELAYDESK_SCHEDULE_CLOSE_HOUR", 17)

	// Dispatcher tunables
	p.UnclaimedTTLMinutes = getEnvOrDefaultInt("RELAYDESK_UNCLAIMED_TTL_MINUTES", 0)
	p.TurnTimeoutSeconds = getEnvOrDefaultInt("RELAYDESK_TURN_TIMEOUT_SECONDS", 30)

	p.AdminToken = getEnvOrDefault("RELAYDESK_ADMIN_TOKEN", "")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "relaydesk")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/relaydesk"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("relaydesk_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.ScheduleOpenHour < 0 || p.ScheduleOpenHour > 23 || p.ScheduleCloseHour < 1 || p.ScheduleCloseHour > 24 || p.ScheduleOpenHour >= p.ScheduleCloseHour {
		return errors.Errorf("invalid business hours %d-%d", p.ScheduleOpenHour, p.ScheduleCloseHour)
	}

	if p.Port < 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}

	return nil
}
