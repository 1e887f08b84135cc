package config

// Default configuration values.
const (
	DefaultAPIBind = "127.0.0.1:7474"

	DefaultCaptureMaxRetries    = 3
	DefaultSweepIntervalSeconds = 300
	DefaultUploadTimeout        = 120

	DefaultPollInterval       = 10
	DefaultBatchSize          = 10
	DefaultJobMaxRetries      = 3
	DefaultBackoffBase        = 2
	DefaultErrorRetryInterval = 5
	DefaultStaleJobTimeout    = 1800
	DefaultRetentionDays      = 7
	DefaultHandlerTimeout     = 300

	DefaultSpeechBaseURL = "https://api.openai.com/v1"
	DefaultSpeechModel   = "whisper-1"
	DefaultSpeechTimeout = 300

	DefaultLLMBaseURL = "https://openrouter.ai/api/v1"
	DefaultLLMModel   = "anthropic/claude-sonnet-4"
	DefaultLLMTimeout = 120

	DefaultEmailTimeout = 60

	DefaultLogFormat = "text"
	DefaultLogLevel  = "info"
)

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  "~/.local/share/hearth",
			MediaDir: "~/.local/share/hearth/media",
			LogDir:   "~/.local/share/hearth/logs",
		},
		Server: Server{
			APIBind:   DefaultAPIBind,
			UploadURL: "http://127.0.0.1:7474",
		},
		Capture: Capture{
			MaxRetries:           DefaultCaptureMaxRetries,
			SweepIntervalSeconds: DefaultSweepIntervalSeconds,
			UploadTimeoutSeconds: DefaultUploadTimeout,
		},
		Jobs: Jobs{
			PollIntervalSeconds:       DefaultPollInterval,
			BatchSize:                 DefaultBatchSize,
			MaxRetries:                DefaultJobMaxRetries,
			BackoffBaseSeconds:        DefaultBackoffBase,
			ErrorRetryIntervalSeconds: DefaultErrorRetryInterval,
			StaleJobTimeoutSeconds:    DefaultStaleJobTimeout,
			RetentionDays:             DefaultRetentionDays,
			HandlerTimeoutSeconds:     DefaultHandlerTimeout,
		},
		Speech: Speech{
			BaseURL:        DefaultSpeechBaseURL,
			Model:          DefaultSpeechModel,
			TimeoutSeconds: DefaultSpeechTimeout,
		},
		LLM: LLM{
			BaseURL:        DefaultLLMBaseURL,
			Model:          DefaultLLMModel,
			TimeoutSeconds: DefaultLLMTimeout,
		},
		Email: Email{
			TimeoutSeconds: DefaultEmailTimeout,
		},
		Logging: Logging{
			Format: DefaultLogFormat,
			Level:  DefaultLogLevel,
		},
	}
}
