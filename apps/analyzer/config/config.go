package config

import (
	"github.com/pitabwire/frame/config"
)

// AnalyzerConfig defines configuration for the PR risk analyzer service.
// It coordinates the source-hosting platform, the AI reviewer, the
// sandbox execution environment and the LLM risk scorer.
type AnalyzerConfig struct {
	config.ConfigurationDefault

	// ==========================================================================
	// Source-Hosting Platform
	// ==========================================================================

	// GithubToken authenticates platform API calls.
	GithubToken string `envDefault:"" env:"GITHUB_TOKEN"`

	// ReviewBotLogin is the login of the AI reviewer bot.
	ReviewBotLogin string `envDefault:"coderabbitai" env:"REVIEW_BOT_LOGIN"`

	// ReviewTriggerCommand is the comment that asks the bot for unit tests.
	ReviewTriggerCommand string `envDefault:"@coderabbitai generate unit tests" env:"REVIEW_TRIGGER_COMMAND"`

	// GithubRequestsPerSecond bounds outgoing platform API calls.
	GithubRequestsPerSecond float64 `envDefault:"5" env:"GITHUB_REQUESTS_PER_SECOND"`

	// GithubRetryMaxAttempts is the attempt budget for transient platform failures.
	GithubRetryMaxAttempts int `envDefault:"4" env:"GITHUB_RETRY_MAX_ATTEMPTS"`

	// GithubRetryInitialDelaySeconds is the backoff before the first retry.
	GithubRetryInitialDelaySeconds int `envDefault:"1" env:"GITHUB_RETRY_INITIAL_DELAY_SECONDS"`

	// ==========================================================================
	// Review Waiting
	// ==========================================================================

	// ReviewPollIntervalSeconds is the poll interval while waiting for review output.
	ReviewPollIntervalSeconds int `envDefault:"30" env:"REVIEW_POLL_INTERVAL_SECONDS"`

	// ReviewPollTimeoutSeconds bounds the whole review wait.
	ReviewPollTimeoutSeconds int `envDefault:"900" env:"REVIEW_POLL_TIMEOUT_SECONDS"`

	// ==========================================================================
	// Sandbox Configuration
	// ==========================================================================

	// SandboxImage overrides the per-language container image when set.
	SandboxImage string `envDefault:"" env:"SANDBOX_IMAGE"`

	// SandboxMemoryLimitMB is the memory limit in MB.
	SandboxMemoryLimitMB int `envDefault:"2048" env:"SANDBOX_MEMORY_LIMIT_MB"`

	// SandboxCPULimit is the CPU limit.
	SandboxCPULimit float64 `envDefault:"2.0" env:"SANDBOX_CPU_LIMIT"`

	// SandboxNetworkEnabled enables network in the sandbox.
	SandboxNetworkEnabled bool `envDefault:"false" env:"SANDBOX_NETWORK_ENABLED"`

	// SandboxTimeoutSeconds is the test execution timeout.
	SandboxTimeoutSeconds int `envDefault:"300" env:"SANDBOX_TIMEOUT_SECONDS"`

	// SandboxOutputCapBytes bounds captured test output.
	SandboxOutputCapBytes int `envDefault:"65536" env:"SANDBOX_OUTPUT_CAP_BYTES"`

	// WorkspaceBasePath is where per-run workspaces are created.
	WorkspaceBasePath string `envDefault:"/var/lib/shipsure/workspaces" env:"WORKSPACE_BASE_PATH"`

	// ==========================================================================
	// Risk Scoring
	// ==========================================================================

	// OpenAIAPIKey authenticates the LLM scorer. Empty disables the AI
	// path; the deterministic heuristic is used instead.
	OpenAIAPIKey string `envDefault:"" env:"OPENAI_API_KEY"`

	// OpenAIModel is the scoring model.
	OpenAIModel string `envDefault:"gpt-4o" env:"OPENAI_MODEL"`

	// ==========================================================================
	// Pipeline Behaviour
	// ==========================================================================

	// SkipTests bypasses sandbox execution for all tasks.
	SkipTests bool `envDefault:"false" env:"SKIP_TESTS"`

	// SkipScoring bypasses AI scoring; the heuristic is always used.
	SkipScoring bool `envDefault:"false" env:"SKIP_SCORING"`

	// MaxConcurrentTasks bounds in-flight tasks per job.
	MaxConcurrentTasks int `envDefault:"4" env:"MAX_CONCURRENT_TASKS"`

	// ==========================================================================
	// State & Persistence
	// ==========================================================================

	// JobRegistryBackend selects the job registry: memory or redis.
	JobRegistryBackend string `envDefault:"memory" env:"JOB_REGISTRY_BACKEND"`

	// RedisAddr is the Redis address when the redis backend is selected.
	RedisAddr string `envDefault:"localhost:6379" env:"REDIS_ADDR"`

	// ResultsDatabasePath is the SQLite path for finished reports. Empty
	// keeps reports in process memory.
	ResultsDatabasePath string `envDefault:"shipsure.db" env:"RESULTS_DATABASE_PATH"`
}
