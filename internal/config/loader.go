package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. BOT_TELEGRAM_TOKEN.
const EnvPrefix = "BOT"

// Load loads and validates configuration from:
// 1. Default values
// 2. The YAML file at path (optional, may be empty)
// 3. A .env file in the working directory (optional)
// 4. BOT_* environment variables
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: failed to load .env: %v", ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.approver_token", "")
	v.SetDefault("telegram.api_url", DefaultTelegramAPIURL)
	v.SetDefault("telegram.channel_id", 0)
	v.SetDefault("telegram.channel_url", "")
	v.SetDefault("telegram.admin_user_id", 0)
	v.SetDefault("telegram.receptionist_id", 0)
	v.SetDefault("telegram.poll_timeout", DefaultTelegramPollTimeout)
	v.SetDefault("telegram.text_timeout", DefaultTelegramTextTimeout)
	v.SetDefault("telegram.file_timeout", DefaultTelegramFileTimeout)

	v.SetDefault("telegram.messages.welcome", DefaultMessages.Welcome)
	v.SetDefault("telegram.messages.personal_welcome", DefaultMessages.PersonalWelcome)
	v.SetDefault("telegram.messages.join_welcome", DefaultMessages.JoinWelcome)
	v.SetDefault("telegram.messages.joined_thanks", DefaultMessages.JoinedThanks)
	v.SetDefault("telegram.messages.join_button", DefaultMessages.JoinButton)
	v.SetDefault("telegram.messages.joined_button", DefaultMessages.JoinedButton)
	v.SetDefault("telegram.messages.receptionist_notice", DefaultMessages.ReceptionistNotice)
	v.SetDefault("telegram.messages.referrer_notice", DefaultMessages.ReferrerNotice)
	v.SetDefault("telegram.messages.file_too_large", DefaultMessages.FileTooLarge)
	v.SetDefault("telegram.messages.general_error", DefaultMessages.GeneralError)
	v.SetDefault("telegram.messages.not_authorized", DefaultMessages.NotAuthorized)

	v.SetDefault("database.path", DefaultDBPath)
	v.SetDefault("database.history_limit", DefaultHistoryLimit)

	v.SetDefault("relay.media_group_window", DefaultMediaGroupWindow)
	v.SetDefault("relay.online_window", DefaultOnlineWindow)
	v.SetDefault("relay.active_window", DefaultActiveWindow)
	v.SetDefault("relay.probe_timeout", DefaultProbeTimeout)
	v.SetDefault("relay.max_photo_size", DefaultMaxPhotoSize)
	v.SetDefault("relay.max_file_size", DefaultMaxFileSize)
	v.SetDefault("relay.broadcast_concurrency", DefaultBroadcastConcurrency)

	v.SetDefault("links.cache_ttl", DefaultLinkCacheTTL)

	v.SetDefault("dashboard.addr", DefaultDashboardAddr)
	v.SetDefault("dashboard.jwt_secret", "")
	v.SetDefault("dashboard.password_hash", "")
	v.SetDefault("dashboard.token_ttl", DefaultTokenTTL)
	v.SetDefault("dashboard.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("dashboard.max_page_size", DefaultMaxPageSize)
	v.SetDefault("dashboard.max_upload_size", DefaultMaxUploadSize)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", DefaultRedisChannel)

	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", DefaultTaskSQLMaint)
	v.SetDefault("scheduler.tasks.referral_reconcile.enabled", true)
	v.SetDefault("scheduler.tasks.referral_reconcile.schedule", DefaultTaskReconcile)
	v.SetDefault("scheduler.tasks.link_cache_purge.enabled", true)
	v.SetDefault("scheduler.tasks.link_cache_purge.schedule", DefaultTaskCachePurge)
}
