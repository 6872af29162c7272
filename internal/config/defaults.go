package config

const (
	defaultConfigPath            = "~/.config/stockpile/config.toml"
	defaultDatabaseName          = "stockpile.db"
	defaultInputDir              = "~/stockpile/input"
	defaultOutputDir             = "~/stockpile/output"
	defaultStagingDir            = "~/.local/share/stockpile/staging"
	defaultLogDir                = "~/.local/share/stockpile/logs"
	defaultMaxConcurrentJobs     = 3
	defaultQueuePollInterval     = 5
	defaultErrorRetryInterval    = 10
	defaultHeartbeatInterval     = 15
	defaultHeartbeatTimeout      = 120
	defaultShutdownGrace         = 30
	defaultStageTimeout          = 1800
	defaultStabilityDebounce     = 5
	defaultMinFreeSpaceGiB       = 5
	defaultMaxResultsPerPhrase   = 20
	defaultMaxVideosPerPhrase    = 3
	defaultMaxDurationSeconds    = 600
	defaultMinScore              = 6
	defaultWhisperXModel         = "base"
	defaultWhisperXRunner        = "uvx"
	defaultLLMBaseURL            = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel              = "google/gemini-2.0-flash-001"
	defaultLLMReferer            = "https://github.com/stockpile/stockpile"
	defaultLLMTitle              = "stockpile"
	defaultLLMTimeoutSeconds     = 60
	defaultDownloaderBinary      = "yt-dlp"
	defaultDownloaderFormat      = "bestvideo[height<=1080][ext=mp4]+bestaudio[ext=m4a]/best[height<=1080][ext=mp4]/best"
	defaultCloudRegion           = "us-east-1"
	defaultCloudInputPrefix      = "incoming/"
	defaultCloudOutputPrefix     = "broll/"
	defaultCloudPollInterval     = 30
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultMetricsPath           = "/metrics"
	defaultRetryJitter           = 0.1
	defaultRetryMultiplier       = 2.0
	defaultAPIRetryAttempts      = 5
	defaultAPIRetryBaseMS        = 2000
	defaultAPIRetryMaxMS         = 120000
	defaultFileRetryAttempts     = 3
	defaultFileRetryBaseMS       = 1000
	defaultFileRetryMaxMS        = 10000
	defaultDownloadRetryAttempts = 3
	defaultDownloadRetryBaseMS   = 2000
	defaultDownloadRetryMaxMS    = 60000
	defaultNotifyRetryAttempts   = 3
	defaultNotifyRetryBaseMS     = 1000
	defaultNotifyRetryMaxMS      = 10000
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			InputDir:   defaultInputDir,
			OutputDir:  defaultOutputDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:  defaultMaxConcurrentJobs,
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			ShutdownGrace:      defaultShutdownGrace,
			StageTimeout:       defaultStageTimeout,
			StabilityDebounce:  defaultStabilityDebounce,
			MinFreeSpaceGiB:    defaultMinFreeSpaceGiB,
		},
		Search: Search{
			MaxResultsPerPhrase: defaultMaxResultsPerPhrase,
			MaxVideosPerPhrase:  defaultMaxVideosPerPhrase,
			MaxDurationSeconds:  defaultMaxDurationSeconds,
			MinScore:            defaultMinScore,
		},
		Transcription: Transcription{
			Model:  defaultWhisperXModel,
			Runner: defaultWhisperXRunner,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
		},
		Downloader: Downloader{
			Binary: defaultDownloaderBinary,
			Format: defaultDownloaderFormat,
		},
		CloudDrive: CloudDrive{
			Region:       defaultCloudRegion,
			InputPrefix:  defaultCloudInputPrefix,
			OutputPrefix: defaultCloudOutputPrefix,
			PollInterval: defaultCloudPollInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Retry: Retry{
			API:      defaultPolicy(defaultAPIRetryAttempts, defaultAPIRetryBaseMS, defaultAPIRetryMaxMS),
			File:     defaultPolicy(defaultFileRetryAttempts, defaultFileRetryBaseMS, defaultFileRetryMaxMS),
			Download: defaultPolicy(defaultDownloadRetryAttempts, defaultDownloadRetryBaseMS, defaultDownloadRetryMaxMS),
			Notify:   defaultPolicy(defaultNotifyRetryAttempts, defaultNotifyRetryBaseMS, defaultNotifyRetryMaxMS),
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Metrics: Metrics{
			Path: defaultMetricsPath,
		},
	}
}

func defaultPolicy(attempts, baseMS, maxMS int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelayMS: baseMS,
		Multiplier:  defaultRetryMultiplier,
		MaxDelayMS:  maxMS,
		Jitter:      defaultRetryJitter,
	}
}
