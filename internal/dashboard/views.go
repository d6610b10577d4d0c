package dashboard

import (
	"database/sql"

	"github.com/edgard/supportrelay/internal/database"
)

type userView struct {
	UserID        int64   `json:"user_id"`
	FullName      string  `json:"full_name"`
	Username      string  `json:"username"`
	JoinDate      string  `json:"join_date"`
	InviteLink    *string `json:"invite_link"`
	PhotoURL      *string `json:"photo_url"`
	Label         *string `json:"label"`
	ReferredBy    *int64  `json:"referred_by"`
	ReferralCount int     `json:"referral_count"`
	IsOnline      bool    `json:"is_online"`
}

type usersPageView struct {
	Users    []userView `json:"users"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type statsView struct {
	TotalUsers    int `json:"total_users"`
	ActiveUsers   int `json:"active_users"`
	TotalMessages int `json:"total_messages"`
	NewJoinsToday int `json:"new_joins_today"`
}

type userStatusView struct {
	UserID       int64   `json:"user_id"`
	FullName     string  `json:"full_name"`
	Username     string  `json:"username"`
	PhotoURL     *string `json:"photo_url"`
	IsOnline     bool    `json:"is_online"`
	LastActivity *string `json:"last_activity"`
}

type referrerView struct {
	UserID        int64  `json:"user_id"`
	FullName      string `json:"full_name"`
	Username      string `json:"username"`
	ReferralCount int    `json:"referral_count"`
}

type referralView struct {
	UserID       int64   `json:"user_id"`
	FullName     string  `json:"full_name"`
	Username     string  `json:"username"`
	JoinDate     string  `json:"join_date"`
	ReferrerName *string `json:"referrer_name,omitempty"`
}

type trackingStatsView struct {
	TotalReferrals    int            `json:"total_referrals"`
	TopReferrers      []referrerView `json:"top_referrers"`
	RecentReferrals   []referralView `json:"recent_referrals"`
	UsersWithTracking int            `json:"users_with_tracking"`
	ConversionRate    float64        `json:"conversion_rate"`
	TotalUsers        int            `json:"total_users"`
}

type userTrackingView struct {
	UserInfo  userView       `json:"user_info"`
	Referrals []referralView `json:"referrals"`
	Referrer  *referrerView  `json:"referrer"`
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func newUserView(u database.User, online bool) userView {
	v := userView{
		UserID:        u.UserID,
		FullName:      u.FullName,
		Username:      u.Username,
		JoinDate:      u.JoinDate,
		InviteLink:    nullString(u.InviteLink),
		PhotoURL:      nullString(u.PhotoURL),
		Label:         nullString(u.Label),
		ReferralCount: u.ReferralCount,
		IsOnline:      online,
	}
	if u.ReferredBy.Valid {
		v.ReferredBy = &u.ReferredBy.Int64
	}
	return v
}

func newReferrerView(r database.Referrer) referrerView {
	return referrerView(r)
}

func newReferralViews(refs []database.Referral) []referralView {
	out := make([]referralView, 0, len(refs))
	for _, r := range refs {
		out = append(out, referralView{
			UserID:       r.UserID,
			FullName:     r.FullName,
			Username:     r.Username,
			JoinDate:     r.JoinDate,
			ReferrerName: nullString(r.ReferrerName),
		})
	}
	return out
}

// historyView encodes messages as [sender, message, timestamp] triples.
func historyView(messages []database.Message) [][3]string {
	out := make([][3]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, [3]string{string(m.Sender), m.Text, m.Timestamp})
	}
	return out
}
