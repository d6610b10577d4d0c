package database

import (
	"database/sql"
	"time"
)

// TimeLayout is the naive local-clock format used for every stored timestamp.
// Values sort lexicographically, so range filters compare plain strings.
const TimeLayout = "2006-01-02 15:04:05"

// DateLayout is the date prefix of TimeLayout.
const DateLayout = "2006-01-02"

// Sender identifies which side of a conversation wrote a message.
type Sender string

// Message senders.
const (
	SenderUser  Sender = "user"
	SenderAdmin Sender = "admin"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAdmin
}

// User is one row of the user directory.
type User struct {
	UserID        int64          `db:"user_id"`
	FullName      string         `db:"full_name"`
	Username      string         `db:"username"`
	JoinDate      string         `db:"join_date"`
	CreatedAt     string         `db:"created_at"`
	InviteLink    sql.NullString `db:"invite_link"`
	PhotoURL      sql.NullString `db:"photo_url"`
	Label         sql.NullString `db:"label"`
	ReferredBy    sql.NullInt64  `db:"referred_by"`
	ReferralCount int            `db:"referral_count"`
}

// NewUser carries the fields for UpsertUser. Zero values are stored as NULL
// for the optional columns; a zero JoinDate means "now".
type NewUser struct {
	UserID     int64
	FullName   string
	Username   string
	JoinDate   time.Time
	InviteLink string
	PhotoURL   string
	Label      string
	ReferredBy int64
}

// Message is one entry of a conversation log. UserID is always the end user,
// whichever side sent it.
type Message struct {
	ID        int64  `db:"id"`
	UserID    int64  `db:"user_id"`
	Sender    Sender `db:"sender"`
	Text      string `db:"message"`
	Timestamp string `db:"timestamp"`
}

// UserSummary is a user row decorated with its derived online flag.
type UserSummary struct {
	User
	IsOnline bool `db:"is_online"`
}

// UserPage is one page of the user listing.
type UserPage struct {
	Users    []UserSummary
	Total    int
	Page     int
	PageSize int
}

// UserStatus reports presence information for a single user.
type UserStatus struct {
	User
	IsOnline     bool           `db:"is_online"`
	LastActivity sql.NullString `db:"last_activity"`
}

// Stats are the dashboard headline counters.
type Stats struct {
	TotalUsers    int `db:"total_users"`
	ActiveUsers   int `db:"active_users"`
	TotalMessages int `db:"total_messages"`
	NewJoinsToday int `db:"new_joins_today"`
}

// Referrer is a user ranked by referral count.
type Referrer struct {
	UserID        int64  `db:"user_id"`
	FullName      string `db:"full_name"`
	Username      string `db:"username"`
	ReferralCount int    `db:"referral_count"`
}

// Referral is a referred user together with the name of who referred them.
type Referral struct {
	UserID       int64          `db:"user_id"`
	FullName     string         `db:"full_name"`
	Username     string         `db:"username"`
	JoinDate     string         `db:"join_date"`
	ReferrerName sql.NullString `db:"referrer_name"`
}

// TrackingStats summarises referral activity across all users.
type TrackingStats struct {
	TotalReferrals    int
	TopReferrers      []Referrer
	RecentReferrals   []Referral
	UsersWithTracking int
	TotalUsers        int
	ConversionRate    float64
}

// UserTracking is the referral view of a single user.
type UserTracking struct {
	User      User
	Referrals []Referral
	Referrer  *Referrer
}
