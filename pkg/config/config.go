package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Gateway   GatewayConfig   `json:"gateway"`
	Scheduler SchedulerConfig `json:"scheduler"`
	mu        sync.RWMutex
}

type AgentConfig struct {
	Name        string  `json:"name" env:"NIABOT_AGENT_NAME"`
	Workspace   string  `json:"workspace" env:"NIABOT_AGENT_WORKSPACE"`
	Model       string  `json:"model" env:"NIABOT_AGENT_MODEL"`
	MaxTokens   int     `json:"max_tokens" env:"NIABOT_AGENT_MAX_TOKENS"`
	Temperature float64 `json:"temperature" env:"NIABOT_AGENT_TEMPERATURE"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

// DiscordConfig describes the single-owner DM transport. OwnerID is the
// only Discord user the bot talks to and the recipient of proactive
// messages.
type DiscordConfig struct {
	Token   string `json:"token" env:"NIABOT_CHANNELS_DISCORD_TOKEN"`
	OwnerID string `json:"owner_id" env:"NIABOT_CHANNELS_DISCORD_OWNER_ID"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"NIABOT_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"NIABOT_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"NIABOT_PROVIDERS_OPENROUTER_PROXY"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"NIABOT_GATEWAY_HOST"`
	Port int    `json:"port" env:"NIABOT_GATEWAY_PORT"`
}

// SchedulerConfig bounds the proactive conversation starters. Hours are in
// 24h local time of Timezone; the per-day starter count is drawn from
// [MinStartersPerDay, MaxStartersPerDay].
type SchedulerConfig struct {
	Timezone          string `json:"timezone" env:"NIABOT_SCHEDULER_TIMEZONE"`
	ActiveHoursStart  int    `json:"active_hours_start" env:"NIABOT_SCHEDULER_ACTIVE_HOURS_START"`
	ActiveHoursEnd    int    `json:"active_hours_end" env:"NIABOT_SCHEDULER_ACTIVE_HOURS_END"`
	MinStartersPerDay int    `json:"min_starters_per_day" env:"NIABOT_SCHEDULER_MIN_STARTERS_PER_DAY"`
	MaxStartersPerDay int    `json:"max_starters_per_day" env:"NIABOT_SCHEDULER_MAX_STARTERS_PER_DAY"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:        "NIA",
			Workspace:   "~/.niabot/workspace",
			Model:       "openai/gpt-4o",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:   "",
				OwnerID: "",
			},
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18791,
		},
		Scheduler: SchedulerConfig{
			Timezone:          "UTC",
			ActiveHoursStart:  8,
			ActiveHoursEnd:    22,
			MinStartersPerDay: 1,
			MaxStartersPerDay: 4,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agent.Workspace)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Providers.OpenRouter.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIBase != "" {
		return c.Providers.OpenRouter.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

// ActiveWindow returns the validated starter window. A reversed or
// out-of-range window collapses to the defaults.
func (c *Config) ActiveWindow() (start, end int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start = c.Scheduler.ActiveHoursStart
	end = c.Scheduler.ActiveHoursEnd
	if start < 0 || start > 23 || end <= start || end > 24 {
		return 8, 22
	}
	return start, end
}

// StarterBounds returns the per-day starter count range, clamped to sane
// values.
func (c *Config) StarterBounds() (min, max int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	min = c.Scheduler.MinStartersPerDay
	max = c.Scheduler.MaxStartersPerDay
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	return min, max
}

// Location resolves the scheduler timezone, falling back to UTC on an
// unknown zone name.
func (c *Config) Location() *time.Location {
	c.mu.RLock()
	tz := c.Scheduler.Timezone
	c.mu.RUnlock()

	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Validate(cfg *Config, requireDiscord bool) error {
	if cfg.Providers.OpenRouter.APIKey == "" {
		return fmt.Errorf("providers.openrouter.api_key is required (or NIABOT_PROVIDERS_OPENROUTER_API_KEY)")
	}
	if requireDiscord {
		if cfg.Channels.Discord.Token == "" {
			return fmt.Errorf("channels.discord.token is required (or NIABOT_CHANNELS_DISCORD_TOKEN)")
		}
		if cfg.Channels.Discord.OwnerID == "" {
			return fmt.Errorf("channels.discord.owner_id is required (or NIABOT_CHANNELS_DISCORD_OWNER_ID)")
		}
	}
	return nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
