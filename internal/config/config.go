package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"smartsign/internal/atomicfile"
)

// Week policies.
const (
	WeekMonFri = "mon-fri"
	WeekMonSun = "mon-sun"
)

const (
	DefaultTagMarker     = "website"
	DefaultSpeakerMarker = "<b>Speaker</b>"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// PreviewConfig controls the optional screenshot of the signage page taken
// after every published snapshot.
type PreviewConfig struct {
	// URL of the display page, e.g. "http://127.0.0.1:8080/". Empty disables
	// capturing.
	URL        string `yaml:"url" json:"url"`
	OutputPath string `yaml:"output_path" json:"output_path"`
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the upload API and snapshot.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone in which "today" and event start times are
	// evaluated (e.g. "Europe/Stockholm").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale selects day/month names for Date_Formatted: "sv" or "en".
	Locale string `yaml:"locale" json:"locale"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is the cron schedule of the daily re-filter run.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// WeekPolicy is "mon-fri" (5-day window) or "mon-sun" (7-day window).
	WeekPolicy string `yaml:"week_policy" json:"week_policy"`

	// RolloverToNextWeek shows next week's schedule from Friday onwards.
	RolloverToNextWeek bool `yaml:"rollover_to_next_week" json:"rollover_to_next_week"`

	TagMarker     string `yaml:"tag_marker" json:"tag_marker"`
	SpeakerMarker string `yaml:"speaker_marker" json:"speaker_marker"`

	// StripTitlePrefixes removes "WS,", "Workshop:" and "Seminar " style
	// prefixes from display titles.
	StripTitlePrefixes bool `yaml:"strip_title_prefixes" json:"strip_title_prefixes"`

	// BlankOnNoMatches writes a header-only snapshot when nothing survives
	// filtering instead of keeping the previous one.
	BlankOnNoMatches bool `yaml:"blank_on_no_matches" json:"blank_on_no_matches"`

	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
	// SnapshotBOM prefixes the CSV with a UTF-8 byte order mark, which some
	// signage players need to detect the encoding.
	SnapshotBOM bool `yaml:"snapshot_bom" json:"snapshot_bom"`

	// ICSPath, if set, receives an iCalendar rendition of every snapshot.
	ICSPath string `yaml:"ics_path" json:"ics_path"`

	// DataDir holds the last uploaded workbook and fetch cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// HistoryPath is the SQLite database recording batch runs.
	HistoryPath string `yaml:"history_path" json:"history_path"`

	// StaticDir is served at / (display template, images). Optional.
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// SourceURL, if set, is polled for a fresh workbook before every
	// scheduled run.
	SourceURL string `yaml:"source_url" json:"source_url"`

	MaxUploadMB int `yaml:"max_upload_mb" json:"max_upload_mb"`

	Preview PreviewConfig `yaml:"preview" json:"preview"`

	// BasicAuth, if non-nil, protects every route except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             "127.0.0.1:8080",
		Timezone:           "Europe/Stockholm",
		Locale:             "sv",
		LogLevel:           "info",
		RefreshCron:        "5 0 * * *",
		WeekPolicy:         WeekMonFri,
		RolloverToNextWeek: true,
		TagMarker:          DefaultTagMarker,
		SpeakerMarker:      DefaultSpeakerMarker,
		SnapshotPath:       "/var/lib/smartsign/seminarier.csv",
		DataDir:            "/var/lib/smartsign/data",
		HistoryPath:        "/var/lib/smartsign/history.sqlite",
		MaxUploadMB:        10,
		Preview: PreviewConfig{
			OutputPath: "/var/lib/smartsign/preview.png",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Booleans are left alone:
// an explicit false in YAML is indistinguishable from "unset".
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch strings.ToLower(c.Locale) {
	case "sv", "en":
		c.Locale = strings.ToLower(c.Locale)
	default:
		c.Locale = def.Locale
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	switch strings.ToLower(c.WeekPolicy) {
	case WeekMonFri, WeekMonSun:
		c.WeekPolicy = strings.ToLower(c.WeekPolicy)
	default:
		// Unknown value; the 5-day window is the safer display.
		c.WeekPolicy = WeekMonFri
	}
	if c.TagMarker == "" {
		c.TagMarker = def.TagMarker
	}
	if c.SpeakerMarker == "" {
		c.SpeakerMarker = def.SpeakerMarker
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = def.SnapshotPath
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.HistoryPath == "" {
		c.HistoryPath = def.HistoryPath
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = def.MaxUploadMB
	}
	if c.Preview.OutputPath == "" {
		c.Preview.OutputPath = def.Preview.OutputPath
	}
}

// WeekDays returns the window length implied by WeekPolicy.
func (c *Config) WeekDays() int {
	if c.WeekPolicy == WeekMonSun {
		return 7
	}
	return 5
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Start from defaults so omitted booleans keep their default value.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically via a
// temp file + rename, with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return atomicfile.Write(path, data, 0o600)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
