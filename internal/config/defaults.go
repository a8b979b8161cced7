package config

const (
	defaultWorkDir             = "~/.local/share/crosspost/work"
	defaultLogDir              = "~/.local/share/crosspost/logs"
	defaultAPIBind             = "127.0.0.1:7519"
	defaultMaxAttempts         = 5
	defaultRetryBackoffBase    = 60
	defaultWorkers             = 2
	defaultPollInterval        = 5
	defaultErrorRetryInterval  = 10
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultFetchTimeout        = 300
	defaultTranscodeTimeout    = 1800
	defaultUploadTimeout       = 600
	defaultVideoCodec          = "libx264"
	defaultTranscodePreset     = "fast"
	defaultCRF                 = 23
	defaultAudioCodec          = "aac"
	defaultAudioBitrate        = "128k"
	defaultInstagramGraphURL   = "https://graph.facebook.com/v21.0"
	defaultInstagramTokenURL   = "https://graph.facebook.com/v21.0/oauth/access_token"
	defaultTikTokBaseURL       = "https://open.tiktokapis.com/v2"
	defaultTikTokTokenURL      = "https://open.tiktokapis.com/v2/oauth/token/"
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Queue: Queue{
			MaxAttempts:        defaultMaxAttempts,
			RetryBackoffBase:   defaultRetryBackoffBase,
			Workers:            defaultWorkers,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Fetch: Fetch{
			TimeoutSeconds: defaultFetchTimeout,
		},
		Transcode: Transcode{
			VideoCodec:     defaultVideoCodec,
			Preset:         defaultTranscodePreset,
			CRF:            defaultCRF,
			AudioCodec:     defaultAudioCodec,
			AudioBitrate:   defaultAudioBitrate,
			TimeoutSeconds: defaultTranscodeTimeout,
		},
		YouTube: YouTube{
			Enabled:        true,
			TimeoutSeconds: defaultUploadTimeout,
		},
		Instagram: Instagram{
			GraphBaseURL:   defaultInstagramGraphURL,
			TokenURL:       defaultInstagramTokenURL,
			TimeoutSeconds: defaultUploadTimeout,
		},
		TikTok: TikTok{
			BaseURL:        defaultTikTokBaseURL,
			TokenURL:       defaultTikTokTokenURL,
			TimeoutSeconds: defaultUploadTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Queued:         false,
			Published:      true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
