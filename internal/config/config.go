// Package config loads the application configuration from a YAML file
// and WZ_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/musikundkultur/wohnzimmer/internal/calendar"
)

// Source kinds accepted by calendar.source.
const (
	SourceStatic         = "static"
	SourceGoogleCalendar = "google-calendar"
	SourceICS            = "ics"
)

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Site     SiteConfig     `mapstructure:"site"`
	Log      LogConfig      `mapstructure:"log"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	StaticDir  string `mapstructure:"static_dir"`
}

// SiteConfig holds website display settings.
type SiteConfig struct {
	Title        string `mapstructure:"title"`
	Tagline      string `mapstructure:"tagline"`
	Description  string `mapstructure:"description"`
	CanonicalURL string `mapstructure:"canonical_url"`
	Links        []Link `mapstructure:"links"`
}

// Link is a footer link.
type Link struct {
	Title string `mapstructure:"title"`
	Href  string `mapstructure:"href"`
	Blank bool   `mapstructure:"blank"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CalendarConfig configures the event source and the sync loop.
type CalendarConfig struct {
	Source     string        `mapstructure:"source"`
	Events     []StaticEvent `mapstructure:"events"`
	EventsFile string        `mapstructure:"events_file"`
	TimeZone   string        `mapstructure:"time_zone"`

	SyncInterval       time.Duration `mapstructure:"sync_interval"`
	Horizon            time.Duration `mapstructure:"horizon"`
	Lookbehind         time.Duration `mapstructure:"lookbehind"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	JitterPercent      uint64        `mapstructure:"jitter_percent"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`

	Google GoogleConfig `mapstructure:"google"`
	ICS    ICSConfig    `mapstructure:"ics"`
}

// GoogleConfig configures the Google Calendar source.
type GoogleConfig struct {
	CalendarID      string `mapstructure:"calendar_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// ICSConfig configures the ICS feed source.
type ICSConfig struct {
	URL string `mapstructure:"url"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Token for bearer authentication. Empty leaves the endpoint open.
	Token string `mapstructure:"token"`
}

// AdminConfig configures the operational surface.
type AdminConfig struct {
	// Token for bearer authentication of the manual refresh trigger.
	Token string `mapstructure:"token"`
}

// StaticEvent is one entry of a declarative event list. Dates accept
// either a plain day ("2026-03-14", treated as all-day) or RFC3339.
type StaticEvent struct {
	ID          string `mapstructure:"id" yaml:"id"`
	Title       string `mapstructure:"title" yaml:"title"`
	Date        string `mapstructure:"date" yaml:"date"`
	End         string `mapstructure:"end" yaml:"end"`
	Location    string `mapstructure:"location" yaml:"location"`
	Description string `mapstructure:"description" yaml:"description"`
}

// Load reads configuration from path (or config/config.yaml if empty)
// and the environment. Nested keys map to WZ_-prefixed variables with
// "__" as separator, e.g. WZ_CALENDAR__GOOGLE__CALENDAR_ID.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("WZ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file is fine; defaults and environment apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", "127.0.0.1:8080")
	v.SetDefault("server.static_dir", "static")
	v.SetDefault("site.title", "Wohnzimmer")
	v.SetDefault("site.tagline", "")
	v.SetDefault("site.description", "")
	v.SetDefault("site.canonical_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("calendar.source", SourceStatic)
	v.SetDefault("calendar.time_zone", "Europe/Berlin")
	v.SetDefault("calendar.sync_interval", 5*time.Minute)
	v.SetDefault("calendar.horizon", 6*30*24*time.Hour)
	v.SetDefault("calendar.lookbehind", 30*24*time.Hour)
	v.SetDefault("calendar.fetch_timeout", 30*time.Second)
	v.SetDefault("calendar.initial_backoff", 30*time.Second)
	v.SetDefault("calendar.max_backoff", 30*time.Minute)
	v.SetDefault("calendar.jitter_percent", 10)
	v.SetDefault("calendar.staleness_threshold", time.Hour)
	v.SetDefault("metrics.enabled", false)

	// Keys without a meaningful default still need to be registered,
	// otherwise viper ignores their environment variables when no config
	// file sets them.
	v.SetDefault("calendar.events_file", "")
	v.SetDefault("calendar.google.calendar_id", "")
	v.SetDefault("calendar.google.credentials_file", "")
	v.SetDefault("calendar.google.credentials_json", "")
	v.SetDefault("calendar.ics.url", "")
	v.SetDefault("metrics.token", "")
	v.SetDefault("admin.token", "")
}

// StaticEvents resolves the declarative event list: inline entries plus,
// if set, the standalone events file.
func (c *CalendarConfig) StaticEvents() ([]calendar.Event, error) {
	entries := make([]StaticEvent, 0, len(c.Events))
	entries = append(entries, c.Events...)

	if c.EventsFile != "" {
		data, err := os.ReadFile(c.EventsFile)
		if err != nil {
			return nil, fmt.Errorf("read events file: %w", err)
		}
		var fileEntries []StaticEvent
		if err := yaml.Unmarshal(data, &fileEntries); err != nil {
			return nil, fmt.Errorf("parse events file %s: %w", c.EventsFile, err)
		}
		entries = append(entries, fileEntries...)
	}

	loc, err := c.Location()
	if err != nil {
		return nil, err
	}

	events := make([]calendar.Event, 0, len(entries))
	for i, entry := range entries {
		ev, err := entry.toEvent(loc)
		if err != nil {
			return nil, fmt.Errorf("static event %d (%q): %w", i, entry.Title, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Location resolves the configured timezone.
func (c *CalendarConfig) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

func (e StaticEvent) toEvent(loc *time.Location) (calendar.Event, error) {
	if e.Title == "" {
		return calendar.Event{}, errors.New("missing title")
	}
	start, allDay, err := parseEventTime(e.Date, loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("parse date: %w", err)
	}

	ev := calendar.Event{
		ID:          e.ID,
		Title:       e.Title,
		Start:       start,
		AllDay:      allDay,
		Location:    e.Location,
		Description: e.Description,
	}
	if ev.ID == "" {
		// Stable synthetic id so deduplication and tie-breaking work.
		ev.ID = fmt.Sprintf("static-%s-%s", start.Format("20060102T1504"), e.Title)
	}

	if e.End != "" {
		end, _, err := parseEventTime(e.End, loc)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("parse end: %w", err)
		}
		if end.Before(start) {
			return calendar.Event{}, errors.New("event ends before it starts")
		}
		ev.End = end
	}
	return ev, nil
}

func parseEventTime(value string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	if t, err = time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, true, nil
	}
	if t, err = time.Parse(time.RFC3339, value); err == nil {
		return t, false, nil
	}
	return time.Time{}, false, fmt.Errorf("unrecognized time %q", value)
}
