// Package config loads the dashboard definition: session settings and the
// charts it is composed of. Values come from a YAML file with environment
// overrides, managed by Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dashwire/dashwire/core"

	"github.com/spf13/viper"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Defaults applied when the file omits a value.
const (
	DefaultConfigPath   = "./dashwire.yaml"
	defaultInterval     = "30s"
	defaultTimeout      = "30s"
	defaultMaxFailures  = 5
	defaultBackoff      = string(core.BackoffExponential)
	defaultWebPort      = 8080
	defaultLogLevelName = "info"
)

// Config is the loaded dashboard definition.
type Config struct {
	LogLevel    string
	WebPort     int
	DataService DataServiceConfig
	Telegram    TelegramConfig
	Charts      []core.Chart
}

// DataServiceConfig points at the external data query service.
type DataServiceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// TelegramConfig holds the alerting channel settings.
type TelegramConfig struct {
	Enabled bool
	Token   string
	Users   []int
}

// chartSpec mirrors the YAML shape of one chart.
type chartSpec struct {
	ID            string         `mapstructure:"id"`
	Library       string         `mapstructure:"library"`
	Type          string         `mapstructure:"type"`
	Dataset       string         `mapstructure:"dataset"`
	Filters       map[string]any `mapstructure:"filters"`
	Configuration map[string]any `mapstructure:"configuration"`
	Polling       pollingSpec    `mapstructure:"polling"`
}

type pollingSpec struct {
	Enabled          bool             `mapstructure:"enabled"`
	Interval         string           `mapstructure:"interval"`
	MaxFailures      int              `mapstructure:"max_consecutive_failures"`
	Backoff          string           `mapstructure:"backoff"`
	PauseOnTabHidden bool             `mapstructure:"pause_on_tab_hidden"`
	ActiveWindow     activeWindowSpec `mapstructure:"active_window"`
}

type activeWindowSpec struct {
	StartHour int      `mapstructure:"start_hour"`
	EndHour   int      `mapstructure:"end_hour"`
	Days      []string `mapstructure:"days"`
}

// Load reads the configuration file and environment overrides
// (DASHWIRE_* variables) into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DASHWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", defaultLogLevelName)
	v.SetDefault("web.port", defaultWebPort)
	v.SetDefault("data_service.timeout", defaultTimeout)

	if path == "" {
		path = DefaultConfigPath
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	timeout, err := str2duration.ParseDuration(v.GetString("data_service.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid data_service.timeout: %w", err)
	}

	var specs []chartSpec
	if err := v.UnmarshalKey("charts", &specs); err != nil {
		return nil, fmt.Errorf("failed to decode charts: %w", err)
	}

	charts := make([]core.Chart, 0, len(specs))
	for _, spec := range specs {
		chart, err := spec.toChart()
		if err != nil {
			return nil, fmt.Errorf("chart %q: %w", spec.ID, err)
		}
		charts = append(charts, chart)
	}

	cfg := &Config{
		LogLevel: v.GetString("log_level"),
		WebPort:  v.GetInt("web.port"),
		DataService: DataServiceConfig{
			BaseURL: v.GetString("data_service.base_url"),
			Timeout: timeout,
		},
		Telegram: TelegramConfig{
			Enabled: v.GetBool("telegram.enabled"),
			Token:   v.GetString("telegram.token"),
			Users:   v.GetIntSlice("telegram.users"),
		},
		Charts: charts,
	}

	if cfg.DataService.BaseURL == "" {
		return nil, fmt.Errorf("data_service.base_url is required")
	}

	return cfg, nil
}

// toChart converts the YAML shape into the core definition, validating as
// it goes.
func (s chartSpec) toChart() (core.Chart, error) {
	polling := core.PollingConfig{
		Enabled:                s.Polling.Enabled,
		MaxConsecutiveFailures: s.Polling.MaxFailures,
		PauseOnTabHidden:       s.Polling.PauseOnTabHidden,
	}

	if polling.MaxConsecutiveFailures == 0 {
		polling.MaxConsecutiveFailures = defaultMaxFailures
	}

	backoff := s.Polling.Backoff
	if backoff == "" {
		backoff = defaultBackoff
	}
	polling.Backoff = core.BackoffStrategy(backoff)

	interval := s.Polling.Interval
	if interval == "" {
		interval = defaultInterval
	}
	parsed, err := str2duration.ParseDuration(interval)
	if err != nil {
		return core.Chart{}, fmt.Errorf("invalid polling interval %q: %w", interval, err)
	}
	polling.Interval = parsed

	window, err := s.Polling.ActiveWindow.toWindow()
	if err != nil {
		return core.Chart{}, err
	}
	polling.ActiveWindow = window

	chart := core.Chart{
		ID:               s.ID,
		Library:          s.Library,
		Type:             s.Type,
		DatasetReference: s.Dataset,
		Filters:          s.Filters,
		Configuration:    s.Configuration,
		Polling:          polling,
	}

	return chart, chart.Validate()
}

// weekdayNames maps config day names to time.Weekday.
var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

func (s activeWindowSpec) toWindow() (core.ActiveWindow, error) {
	window := core.ActiveWindow{
		StartHour: s.StartHour,
		EndHour:   s.EndHour,
	}

	for _, name := range s.Days {
		day, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return core.ActiveWindow{}, fmt.Errorf("unknown weekday %q", name)
		}
		window.Days = append(window.Days, day)
	}

	return window, nil
}
