// Package config loads and validates the relay configuration. Values come from
// built-in defaults, an optional YAML file, a .env file and BOT_* environment
// variables, in increasing order of precedence.
package config

import (
	"errors"
	"time"
)

// ErrConfiguration wraps every error returned while loading configuration.
var ErrConfiguration = errors.New("configuration error")

// Config is the root configuration object shared by all relay components.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Links     LinksConfig     `mapstructure:"links"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds bot credentials, the managed channel and outbound call limits.
type TelegramConfig struct {
	Token          string         `mapstructure:"token"           validate:"required"`
	ApproverToken  string         `mapstructure:"approver_token"  validate:"omitempty,nefield=Token"`
	APIURL         string         `mapstructure:"api_url"         validate:"required,url"`
	ChannelID      int64          `mapstructure:"channel_id"`
	ChannelURL     string         `mapstructure:"channel_url"     validate:"required,url"`
	AdminUserID    int64          `mapstructure:"admin_user_id"   validate:"required,gt=0"`
	ReceptionistID int64          `mapstructure:"receptionist_id" validate:"gte=0"`
	PollTimeout    time.Duration  `mapstructure:"poll_timeout"    validate:"min=1s,max=2m"`
	TextTimeout    time.Duration  `mapstructure:"text_timeout"    validate:"min=1s,max=1m"`
	FileTimeout    time.Duration  `mapstructure:"file_timeout"    validate:"min=1s,max=5m"`
	Messages       MessagesConfig `mapstructure:"messages"`
}

// MessagesConfig holds every user-facing text the bot sends.
// Placeholders: {TRACKING_LINK}, {NAME}, {USER_ID}, {REFERRER_ID}.
type MessagesConfig struct {
	Welcome            string `mapstructure:"welcome"             validate:"required"`
	PersonalWelcome    string `mapstructure:"personal_welcome"    validate:"required"`
	JoinWelcome        string `mapstructure:"join_welcome"        validate:"required"`
	JoinedThanks       string `mapstructure:"joined_thanks"       validate:"required"`
	JoinButton         string `mapstructure:"join_button"         validate:"required"`
	JoinedButton       string `mapstructure:"joined_button"       validate:"required"`
	ReceptionistNotice string `mapstructure:"receptionist_notice" validate:"required"`
	ReferrerNotice     string `mapstructure:"referrer_notice"     validate:"required"`
	FileTooLarge       string `mapstructure:"file_too_large"      validate:"required"`
	GeneralError       string `mapstructure:"general_error"       validate:"required"`
	NotAuthorized      string `mapstructure:"not_authorized"      validate:"required"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path         string `mapstructure:"path"          validate:"required"`
	HistoryLimit int    `mapstructure:"history_limit" validate:"gt=0,lte=1000"`
}

// RelayConfig tunes classification, aggregation and admin sends.
type RelayConfig struct {
	MediaGroupWindow     time.Duration `mapstructure:"media_group_window"    validate:"min=50ms,max=10s"`
	OnlineWindow         time.Duration `mapstructure:"online_window"         validate:"min=1m"`
	ActiveWindow         time.Duration `mapstructure:"active_window"         validate:"min=1m"`
	ProbeTimeout         time.Duration `mapstructure:"probe_timeout"         validate:"min=100ms,max=1m"`
	MaxPhotoSize         int64         `mapstructure:"max_photo_size"        validate:"gt=0"`
	MaxFileSize          int64         `mapstructure:"max_file_size"         validate:"gtefield=MaxPhotoSize"`
	BroadcastConcurrency int           `mapstructure:"broadcast_concurrency" validate:"gte=1,lte=30"`
}

// LinksConfig controls the generated link cache.
type LinksConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"min=1m"`
}

// DashboardConfig configures the admin HTTP API.
type DashboardConfig struct {
	Addr           string        `mapstructure:"addr"            validate:"required,hostname_port"`
	JWTSecret      string        `mapstructure:"jwt_secret"      validate:"omitempty,min=16"`
	PasswordHash   string        `mapstructure:"password_hash"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"       validate:"min=1m"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" validate:"dive,required"`
	MaxPageSize    int           `mapstructure:"max_page_size"   validate:"gt=0,lte=500"`
	MaxUploadSize  int64         `mapstructure:"max_upload_size" validate:"gt=0"`
}

// RedisConfig enables the cross-process fanout bridge when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     validate:"omitempty,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       validate:"gte=0"`
	Channel  string `mapstructure:"channel"  validate:"required"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig is one scheduled task entry.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// RedisEnabled reports whether fanout should be bridged through Redis.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// IsAdmin reports whether userID is the configured admin.
func (c *Config) IsAdmin(userID int64) bool {
	return userID == c.Telegram.AdminUserID
}
