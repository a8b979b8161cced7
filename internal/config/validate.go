package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		problems = append(problems, "paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must be set")
	}
	if c.Queue.MaxAttempts < 1 {
		problems = append(problems, "queue.max_attempts must be at least 1")
	}
	if c.Queue.RetryBackoffBase < 1 {
		problems = append(problems, "queue.retry_backoff_base must be at least 1 second")
	}
	if c.Queue.Workers < 1 {
		problems = append(problems, "queue.workers must be at least 1")
	}
	if c.Queue.PollInterval < 1 {
		problems = append(problems, "queue.poll_interval must be at least 1 second")
	}
	if c.Queue.HeartbeatInterval < 1 {
		problems = append(problems, "queue.heartbeat_interval must be at least 1 second")
	}
	if c.Queue.HeartbeatTimeout <= c.Queue.HeartbeatInterval {
		problems = append(problems, "queue.heartbeat_timeout must exceed queue.heartbeat_interval")
	}
	if c.Transcode.CRF < 0 || c.Transcode.CRF > 51 {
		problems = append(problems, "transcode.crf must be between 0 and 51")
	}
	if len(c.EnabledPlatforms()) == 0 {
		problems = append(problems, "at least one platform must be enabled")
	}
	if c.YouTube.Enabled && (strings.TrimSpace(c.YouTube.ClientID) == "" || strings.TrimSpace(c.YouTube.ClientSecret) == "") {
		problems = append(problems, "youtube.client_id and youtube.client_secret are required when youtube is enabled")
	}
	if c.Instagram.Enabled && strings.TrimSpace(c.Instagram.GraphBaseURL) == "" {
		problems = append(problems, "instagram.graph_base_url is required when instagram is enabled")
	}
	if c.TikTok.Enabled && strings.TrimSpace(c.TikTok.BaseURL) == "" {
		problems = append(problems, "tiktok.base_url is required when tiktok is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
