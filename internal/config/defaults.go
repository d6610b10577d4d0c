package config

import "time"

// Default values for configuration
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = true

	DefaultTelegramAPIURL      = "https://api.telegram.org"
	DefaultTelegramPollTimeout = 30 * time.Second
	DefaultTelegramTextTimeout = 10 * time.Second
	DefaultTelegramFileTimeout = 30 * time.Second

	DefaultDBPath       = "users.db"
	DefaultHistoryLimit = 100

	DefaultMediaGroupWindow     = 500 * time.Millisecond
	DefaultOnlineWindow         = 5 * time.Minute
	DefaultActiveWindow         = 60 * time.Minute
	DefaultProbeTimeout         = 5 * time.Second
	DefaultMaxPhotoSize         = 20 << 20 // Bot API photo upload limit
	DefaultMaxFileSize          = 50 << 20 // Bot API file upload limit
	DefaultBroadcastConcurrency = 5

	DefaultLinkCacheTTL = time.Hour

	DefaultDashboardAddr  = ":5000"
	DefaultTokenTTL       = 24 * time.Hour
	DefaultMaxPageSize    = 100
	DefaultMaxUploadSize  = 200 << 20
	DefaultRedisChannel   = "relay-events"
	DefaultTaskSQLMaint   = "0 0 4 * * *"
	DefaultTaskReconcile  = "0 30 4 * * *"
	DefaultTaskCachePurge = "0 */10 * * * *"
)

// DefaultMessages are the stock user-facing texts.
var DefaultMessages = MessagesConfig{
	Welcome:            "👋 Welcome! Write to us here any time and our team will reply.\n\nYour personal link: {TRACKING_LINK}",
	PersonalWelcome:    "👋 Welcome! You can chat with our support team right here.",
	JoinWelcome:        "👋 Hi {NAME}, your request to join was approved. Reply to this message if you need anything.",
	JoinedThanks:       "🎉 Thanks for joining the channel!",
	JoinButton:         "📢 Join channel",
	JoinedButton:       "✅ I've joined",
	ReceptionistNotice: "🆕 {NAME} (ID {USER_ID}) started a chat through the personal link of {REFERRER_ID}.",
	ReferrerNotice:     "🎉 {NAME} joined through your link.",
	FileTooLarge:       "📎 This file is too large. Please send a file smaller than 20MB.",
	GeneralError:       "❌ Sorry, there was an error processing your request.",
	NotAuthorized:      "🚫 You are not authorized to use this command.",
}
