package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

// ErrUserNotFound is returned when an operation targets a user_id with no row.
var ErrUserNotFound = errors.New("user not found")

// ErrInvalidMessage is returned by RecordMessage for malformed input.
var ErrInvalidMessage = errors.New("invalid message")

const (
	defaultHistoryLimit = 100
	defaultPageSize     = 10
	defaultOnlineWindow = 5 * time.Minute
	defaultActiveWindow = 60 * time.Minute
	topReferrersLimit   = 10
	recentReferralLimit = 20
)

// Store defines the relay's persistence operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RecordMessage appends one message to a user's conversation log.
	RecordMessage(ctx context.Context, userID int64, sender Sender, text string) (*Message, error)

	// UpsertUser inserts the user if absent and reports whether a row was created.
	// Existing rows are never overwritten. A referral on a newly created row
	// increments the referrer's count in the same transaction.
	UpsertUser(ctx context.Context, u NewUser) (bool, error)

	// GetUser returns a single user or ErrUserNotFound.
	GetUser(ctx context.Context, userID int64) (*User, error)

	// SetLabel replaces the admin label of a user. An unknown user is a no-op.
	SetLabel(ctx context.Context, userID int64, label string) error

	// SetInviteLink replaces the tracking link stored for a user. An unknown user is a no-op.
	SetInviteLink(ctx context.Context, userID int64, link string) error

	// SetPhotoURL replaces the stored profile photo reference.
	SetPhotoURL(ctx context.Context, userID int64, photoURL string) error

	// ListUsers returns one page of users ordered by join date, newest first.
	ListUsers(ctx context.Context, page, pageSize int) (*UserPage, error)

	// History returns the latest messages of a conversation in insertion order.
	History(ctx context.Context, userID int64, limit int) ([]Message, error)

	// Stats returns the dashboard headline counters.
	Stats(ctx context.Context) (*Stats, error)

	// IsOnline reports whether the user wrote within the online window.
	IsOnline(ctx context.Context, userID int64) (bool, error)

	// UserStatus returns presence information or ErrUserNotFound.
	UserStatus(ctx context.Context, userID int64) (*UserStatus, error)

	// AllUserIDs lists every known user, oldest first.
	AllUserIDs(ctx context.Context) ([]int64, error)

	// TrackingStats summarises referral activity.
	TrackingStats(ctx context.Context) (*TrackingStats, error)

	// UserTracking returns the referral view of one user or ErrUserNotFound.
	UserTracking(ctx context.Context, userID int64) (*UserTracking, error)

	// ReconcileReferralCounts recomputes every referral_count from referred_by
	// and returns the number of rows that were corrected.
	ReconcileReferralCounts(ctx context.Context) (int64, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// StoreOption customises a Store.
type StoreOption func(*sqlxStore)

// WithClock sets the clock used for timestamps and time windows.
func WithClock(clock clockwork.Clock) StoreOption {
	return func(s *sqlxStore) { s.clock = clock }
}

// WithWindows sets how far back "online" and "active" look.
func WithWindows(online, active time.Duration) StoreOption {
	return func(s *sqlxStore) {
		if online > 0 {
			s.onlineWindow = online
		}
		if active > 0 {
			s.activeWindow = active
		}
	}
}

// WithHistoryLimit sets the default history page size.
func WithHistoryLimit(limit int) StoreOption {
	return func(s *sqlxStore) {
		if limit > 0 {
			s.historyLimit = limit
		}
	}
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db           *sqlx.DB
	logger       *slog.Logger
	clock        clockwork.Clock
	onlineWindow time.Duration
	activeWindow time.Duration
	historyLimit int
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger, opts ...StoreOption) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &sqlxStore{
		db:           db,
		logger:       logger.With("component", "store"),
		clock:        clockwork.NewRealClock(),
		onlineWindow: defaultOnlineWindow,
		activeWindow: defaultActiveWindow,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sqlxStore) now() time.Time {
	return s.clock.Now()
}

func (s *sqlxStore) since(d time.Duration) string {
	return s.now().Add(-d).Format(TimeLayout)
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordMessage appends a message stamped with the store clock.
func (s *sqlxStore) RecordMessage(ctx context.Context, userID int64, sender Sender, text string) (*Message, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user_id cannot be zero", ErrInvalidMessage)
	}
	if !sender.Valid() {
		return nil, fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, sender)
	}

	msg := &Message{
		UserID:    userID,
		Sender:    sender,
		Text:      text,
		Timestamp: s.now().Format(TimeLayout),
	}

	result, err := s.db.NamedExecContext(ctx, `
        INSERT INTO messages (user_id, sender, message, timestamp)
        VALUES (:user_id, :sender, :message, :timestamp);
    `, msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error recording message", "user_id", userID, "sender", sender, "error", err)
		return nil, fmt.Errorf("failed to record message for user %d: %w", userID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after recording message", "user_id", userID, "error", err)
	}
	msg.ID = id

	s.logger.DebugContext(ctx, "Message recorded", "user_id", userID, "sender", sender, "message_id", msg.ID)
	return msg, nil
}

// UpsertUser implements insert-or-ignore with an atomic referral increment.
func (s *sqlxStore) UpsertUser(ctx context.Context, u NewUser) (bool, error) {
	if u.UserID == 0 {
		return false, errors.New("user_id cannot be zero")
	}

	now := s.now()
	joinDate := u.JoinDate
	if joinDate.IsZero() {
		joinDate = now
	}

	var referredBy sql.NullInt64
	if u.ReferredBy != 0 && u.ReferredBy != u.UserID {
		referredBy = sql.NullInt64{Int64: u.ReferredBy, Valid: true}
	}

	row := User{
		UserID:     u.UserID,
		FullName:   u.FullName,
		Username:   u.Username,
		JoinDate:   joinDate.Format(TimeLayout),
		CreatedAt:  now.Format(TimeLayout),
		InviteLink: nullString(u.InviteLink),
		PhotoURL:   nullString(u.PhotoURL),
		Label:      nullString(u.Label),
		ReferredBy: referredBy,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for user upsert", "user_id", u.UserID, "error", err)
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
		}
	}()

	// A row created after its referrals starts with their count so the invariant holds.
	result, err := tx.NamedExecContext(ctx, `
        INSERT OR IGNORE INTO users
            (user_id, full_name, username, join_date, invite_link, photo_url, label, referred_by, referral_count, created_at)
        VALUES
            (:user_id, :full_name, :username, :join_date, :invite_link, :photo_url, :label, :referred_by,
             (SELECT COUNT(*) FROM users WHERE referred_by = :user_id), :created_at);
    `, row)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting user", "user_id", u.UserID, "error", err)
		return false, fmt.Errorf("failed to insert user %d: %w", u.UserID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for user %d: %w", u.UserID, err)
	}
	inserted := affected == 1

	if inserted && referredBy.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET referral_count = referral_count + 1 WHERE user_id = ?;`,
			referredBy.Int64,
		); err != nil {
			s.logger.ErrorContext(ctx, "Error incrementing referral count", "user_id", u.UserID, "referrer_id", referredBy.Int64, "error", err)
			return false, fmt.Errorf("failed to increment referral count of %d: %w", referredBy.Int64, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit user upsert", "user_id", u.UserID, "error", err)
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if inserted {
		s.logger.InfoContext(ctx, "User created", "user_id", u.UserID, "referred_by", referredBy.Int64)
	}
	return inserted, nil
}

const userColumns = `user_id, full_name, username, join_date, created_at, invite_link, photo_url, label, referred_by, referral_count`

// GetUser returns a single user.
func (s *sqlxStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE user_id = ?;`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return &u, nil
}

// SetLabel replaces the label of a user.
func (s *sqlxStore) SetLabel(ctx context.Context, userID int64, label string) error {
	return s.updateColumn(ctx, "label", userID, nullString(label))
}

// SetInviteLink replaces the invite link of a user.
func (s *sqlxStore) SetInviteLink(ctx context.Context, userID int64, link string) error {
	return s.updateColumn(ctx, "invite_link", userID, nullString(link))
}

// SetPhotoURL replaces the photo reference of a user.
func (s *sqlxStore) SetPhotoURL(ctx context.Context, userID int64, photoURL string) error {
	return s.updateColumn(ctx, "photo_url", userID, nullString(photoURL))
}

// updateColumn is only called with the fixed column names above. Updates are
// unconditional; a missing row is logged and not an error.
func (s *sqlxStore) updateColumn(ctx context.Context, column string, userID int64, value sql.NullString) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET `+column+` = ? WHERE user_id = ?;`, value, userID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating user", "user_id", userID, "column", column, "error", err)
		return fmt.Errorf("failed to update %s of user %d: %w", column, userID, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		s.logger.DebugContext(ctx, "Update matched no user", "user_id", userID, "column", column)
	}
	return nil
}

// ListUsers returns one page of users with their derived online flag.
func (s *sqlxStore) ListUsers(ctx context.Context, page, pageSize int) (*UserPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users;`); err != nil {
		s.logger.ErrorContext(ctx, "Error counting users", "error", err)
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	users := []UserSummary{}
	err := s.db.SelectContext(ctx, &users, `
        SELECT `+userColumns+`,
               EXISTS (
                   SELECT 1 FROM messages m
                   WHERE m.user_id = users.user_id AND m.sender = 'user' AND m.timestamp >= ?
               ) AS is_online
        FROM users
        ORDER BY join_date DESC, user_id DESC
        LIMIT ? OFFSET ?;
    `, s.since(s.onlineWindow), pageSize, (page-1)*pageSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing users", "page", page, "page_size", pageSize, "error", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return &UserPage{Users: users, Total: total, Page: page, PageSize: pageSize}, nil
}

// History returns the newest limit messages of a conversation, oldest first.
func (s *sqlxStore) History(ctx context.Context, userID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}

	messages := []Message{}
	err := s.db.SelectContext(ctx, &messages, `
        SELECT id, user_id, sender, message, timestamp FROM (
            SELECT id, user_id, sender, message, timestamp
            FROM messages
            WHERE user_id = ?
            ORDER BY id DESC
            LIMIT ?
        ) ORDER BY id ASC;
    `, userID, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching message history", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get history of user %d: %w", userID, err)
	}
	return messages, nil
}

// Stats returns the dashboard headline counters in one round trip.
func (s *sqlxStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, `
        SELECT
            (SELECT COUNT(*) FROM users) AS total_users,
            (SELECT COUNT(DISTINCT user_id) FROM messages WHERE timestamp >= ?) AS active_users,
            (SELECT COUNT(*) FROM messages) AS total_messages,
            (SELECT COUNT(*) FROM users WHERE join_date LIKE ?) AS new_joins_today;
    `, s.since(s.activeWindow), s.now().Format(DateLayout)+"%")
	if err != nil {
		s.logger.ErrorContext(ctx, "Error computing stats", "error", err)
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return &st, nil
}

// IsOnline reports whether the user sent a message within the online window.
func (s *sqlxStore) IsOnline(ctx context.Context, userID int64) (bool, error) {
	var online bool
	err := s.db.GetContext(ctx, &online, `
        SELECT EXISTS (
            SELECT 1 FROM messages WHERE user_id = ? AND sender = 'user' AND timestamp >= ?
        );
    `, userID, s.since(s.onlineWindow))
	if err != nil {
		s.logger.ErrorContext(ctx, "Error checking online status", "user_id", userID, "error", err)
		return false, fmt.Errorf("failed to check online status of user %d: %w", userID, err)
	}
	return online, nil
}

// UserStatus returns the user with online flag and last message time.
func (s *sqlxStore) UserStatus(ctx context.Context, userID int64) (*UserStatus, error) {
	var st UserStatus
	err := s.db.GetContext(ctx, &st, `
        SELECT `+userColumns+`,
               EXISTS (
                   SELECT 1 FROM messages m
                   WHERE m.user_id = users.user_id AND m.sender = 'user' AND m.timestamp >= ?
               ) AS is_online,
               (SELECT timestamp FROM messages m WHERE m.user_id = users.user_id ORDER BY id DESC LIMIT 1) AS last_activity
        FROM users
        WHERE user_id = ?;
    `, s.since(s.onlineWindow), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error fetching user status", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get status of user %d: %w", userID, err)
	}
	return &st, nil
}

// AllUserIDs lists every user id in join order.
func (s *sqlxStore) AllUserIDs(ctx context.Context) ([]int64, error) {
	ids := []int64{}
	if err := s.db.SelectContext(ctx, &ids, `SELECT user_id FROM users ORDER BY join_date ASC, user_id ASC;`); err != nil {
		s.logger.ErrorContext(ctx, "Error listing user ids", "error", err)
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	return ids, nil
}

// TrackingStats summarises referral activity.
func (s *sqlxStore) TrackingStats(ctx context.Context) (*TrackingStats, error) {
	st := &TrackingStats{TopReferrers: []Referrer{}, RecentReferrals: []Referral{}}

	err := s.db.QueryRowxContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM users WHERE referred_by IS NOT NULL),
            (SELECT COUNT(*) FROM users WHERE invite_link LIKE '%ref=%'),
            (SELECT COUNT(*) FROM users);
    `).Scan(&st.TotalReferrals, &st.UsersWithTracking, &st.TotalUsers)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error counting referrals", "error", err)
		return nil, fmt.Errorf("failed to count referrals: %w", err)
	}

	if err := s.db.SelectContext(ctx, &st.TopReferrers, `
        SELECT user_id, full_name, username, referral_count
        FROM users
        WHERE referral_count > 0
        ORDER BY referral_count DESC, user_id ASC
        LIMIT ?;
    `, topReferrersLimit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing top referrers", "error", err)
		return nil, fmt.Errorf("failed to list top referrers: %w", err)
	}

	if err := s.db.SelectContext(ctx, &st.RecentReferrals, `
        SELECT u.user_id, u.full_name, u.username, u.join_date, r.full_name AS referrer_name
        FROM users u
        LEFT JOIN users r ON u.referred_by = r.user_id
        WHERE u.referred_by IS NOT NULL
        ORDER BY u.join_date DESC, u.user_id DESC
        LIMIT ?;
    `, recentReferralLimit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing recent referrals", "error", err)
		return nil, fmt.Errorf("failed to list recent referrals: %w", err)
	}

	if st.TotalUsers > 0 {
		rate := float64(st.UsersWithTracking) / float64(st.TotalUsers) * 100
		st.ConversionRate = math.Round(rate*100) / 100
	}
	return st, nil
}

// UserTracking returns the user, their direct referrals and their referrer.
func (s *sqlxStore) UserTracking(ctx context.Context, userID int64) (*UserTracking, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	tr := &UserTracking{User: *u, Referrals: []Referral{}}
	if err := s.db.SelectContext(ctx, &tr.Referrals, `
        SELECT user_id, full_name, username, join_date, NULL AS referrer_name
        FROM users
        WHERE referred_by = ?
        ORDER BY join_date DESC, user_id DESC;
    `, userID); err != nil {
		s.logger.ErrorContext(ctx, "Error listing referrals", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list referrals of user %d: %w", userID, err)
	}

	if u.ReferredBy.Valid {
		var ref Referrer
		err := s.db.GetContext(ctx, &ref,
			`SELECT user_id, full_name, username, referral_count FROM users WHERE user_id = ?;`,
			u.ReferredBy.Int64)
		switch {
		case err == nil:
			tr.Referrer = &ref
		case errors.Is(err, sql.ErrNoRows):
			s.logger.DebugContext(ctx, "Referrer not in directory", "user_id", userID, "referrer_id", u.ReferredBy.Int64)
		default:
			return nil, fmt.Errorf("failed to get referrer of user %d: %w", userID, err)
		}
	}
	return tr, nil
}

// ReconcileReferralCounts repairs any drift between referral_count and referred_by.
func (s *sqlxStore) ReconcileReferralCounts(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
        UPDATE users
        SET referral_count = (SELECT COUNT(*) FROM users r WHERE r.referred_by = users.user_id)
        WHERE referral_count <> (SELECT COUNT(*) FROM users r WHERE r.referred_by = users.user_id);
    `)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error reconciling referral counts", "error", err)
		return 0, fmt.Errorf("failed to reconcile referral counts: %w", err)
	}
	fixed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if fixed > 0 {
		s.logger.WarnContext(ctx, "Corrected drifted referral counts", "rows", fixed)
	}
	return fixed, nil
}

// RunSQLMaintenance executes VACUUM and refreshes planner statistics.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")
	startTime := time.Now()

	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.ErrorContext(ctx, "VACUUM failed", "error", err)
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "PRAGMA optimize failed", "error", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(startTime))
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
