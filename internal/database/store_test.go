package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/supportrelay/internal/database"
)

var baseTime = time.Date(2025, time.March, 14, 10, 0, 0, 0, time.Local)

func newTestStore(t *testing.T) (database.Store, *sqlx.DB, *clockwork.FakeClock) {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	clock := clockwork.NewFakeClockAt(baseTime)
	return database.NewStore(db, nil, database.WithClock(clock)), db, clock
}

func mustUpsert(t *testing.T, store database.Store, u database.NewUser) bool {
	t.Helper()
	inserted, err := store.UpsertUser(context.Background(), u)
	if err != nil {
		t.Fatalf("UpsertUser(%d) error = %v", u.UserID, err)
	}
	return inserted
}

func mustRecord(t *testing.T, store database.Store, userID int64, sender database.Sender, text string) *database.Message {
	t.Helper()
	msg, err := store.RecordMessage(context.Background(), userID, sender, text)
	if err != nil {
		t.Fatalf("RecordMessage(%d) error = %v", userID, err)
	}
	return msg
}

func TestUpsertUserReferral(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	if !mustUpsert(t, store, database.NewUser{UserID: 1, FullName: "Alice"}) {
		t.Fatal("first insert of Alice reported no insert")
	}
	if !mustUpsert(t, store, database.NewUser{UserID: 2, FullName: "Bob", ReferredBy: 1}) {
		t.Fatal("first insert of Bob reported no insert")
	}

	alice, err := store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser(1) error = %v", err)
	}
	if alice.ReferralCount != 1 {
		t.Errorf("Alice referral_count = %d, want 1", alice.ReferralCount)
	}

	bob, err := store.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("GetUser(2) error = %v", err)
	}
	if !bob.ReferredBy.Valid || bob.ReferredBy.Int64 != 1 {
		t.Errorf("Bob referred_by = %+v, want 1", bob.ReferredBy)
	}
}

func TestUpsertUserIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	mustUpsert(t, store, database.NewUser{UserID: 1, FullName: "Alice"})
	mustUpsert(t, store, database.NewUser{UserID: 2, FullName: "Bob", Username: "bob", ReferredBy: 1, InviteLink: "https://t.me/c?ref=1"})
	first, err := store.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("GetUser(2) error = %v", err)
	}

	clock.Advance(time.Hour)
	if mustUpsert(t, store, database.NewUser{UserID: 2, FullName: "Robert", Username: "rob", ReferredBy: 1, PhotoURL: "x"}) {
		t.Error("second upsert reported an insert")
	}

	second, err := store.GetUser(ctx, 2)
	if err != nil {
		t.Fatalf("GetUser(2) error = %v", err)
	}
	if *second != *first {
		t.Errorf("second upsert changed row:\n got %+v\nwant %+v", *second, *first)
	}

	alice, err := store.GetUser(ctx, 1)
	if err != nil {
		t.Fatalf("GetUser(1) error = %v", err)
	}
	if alice.ReferralCount != 1 {
		t.Errorf("Alice referral_count = %d after repeated upsert, want 1", alice.ReferralCount)
	}
}

func TestUpsertUserReferralEdgeCases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	// Self referral is dropped.
	mustUpsert(t, store, database.NewUser{UserID: 5, FullName: "Self", ReferredBy: 5})
	self, err := store.GetUser(ctx, 5)
	if err != nil {
		t.Fatalf("GetUser(5) error = %v", err)
	}
	if self.ReferredBy.Valid || self.ReferralCount != 0 {
		t.Errorf("self referral stored: referred_by=%+v count=%d", self.ReferredBy, self.ReferralCount)
	}

	// Referrer that signs up after its referrals starts with the right count.
	mustUpsert(t, store, database.NewUser{UserID: 10, ReferredBy: 9})
	mustUpsert(t, store, database.NewUser{UserID: 11, ReferredBy: 9})
	mustUpsert(t, store, database.NewUser{UserID: 9, FullName: "Late"})
	late, err := store.GetUser(ctx, 9)
	if err != nil {
		t.Fatalf("GetUser(9) error = %v", err)
	}
	if late.ReferralCount != 2 {
		t.Errorf("late referrer count = %d, want 2", late.ReferralCount)
	}
}

func TestRecordMessageValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	tests := []struct {
		name   string
		userID int64
		sender database.Sender
	}{
		{name: "zero user", userID: 0, sender: database.SenderUser},
		{name: "unknown sender", userID: 1, sender: database.Sender("bot")},
	}
	for _, tt := range tests {
		if _, err := store.RecordMessage(ctx, tt.userID, tt.sender, "hi"); !errors.Is(err, database.ErrInvalidMessage) {
			t.Errorf("%s: error = %v, want ErrInvalidMessage", tt.name, err)
		}
	}
}

func TestHistoryOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	mustUpsert(t, store, database.NewUser{UserID: 1})
	for i := range 5 {
		sender := database.SenderUser
		if i%2 == 1 {
			sender = database.SenderAdmin
		}
		mustRecord(t, store, 1, sender, string(rune('a'+i)))
		clock.Advance(time.Second)
	}
	mustRecord(t, store, 2, database.SenderUser, "other conversation")

	all, err := store.History(ctx, 1, 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("History() returned %d messages, want 5", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID || all[i].Timestamp < all[i-1].Timestamp {
			t.Errorf("History() out of order at %d: %+v before %+v", i, all[i-1], all[i])
		}
	}

	latest, err := store.History(ctx, 1, 2)
	if err != nil {
		t.Fatalf("History(limit=2) error = %v", err)
	}
	if len(latest) != 2 || latest[0].Text != "d" || latest[1].Text != "e" {
		t.Errorf("History(limit=2) = %+v, want the last two messages in order", latest)
	}
}

func TestIsOnline(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	mustUpsert(t, store, database.NewUser{UserID: 1})

	online, err := store.IsOnline(ctx, 1)
	if err != nil || online {
		t.Fatalf("IsOnline() with no messages = %v, %v; want false", online, err)
	}

	mustRecord(t, store, 1, database.SenderAdmin, "admin reply")
	if online, _ := store.IsOnline(ctx, 1); online {
		t.Error("IsOnline() = true after an admin-only message")
	}

	mustRecord(t, store, 1, database.SenderUser, "hello")
	if online, _ := store.IsOnline(ctx, 1); !online {
		t.Error("IsOnline() = false for a message timestamped now")
	}

	clock.Advance(6 * time.Minute)
	if online, _ := store.IsOnline(ctx, 1); online {
		t.Error("IsOnline() = true six minutes after the last message")
	}
}

func TestListUsersAndStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	for i := int64(1); i <= 3; i++ {
		mustUpsert(t, store, database.NewUser{UserID: i, JoinDate: baseTime.Add(time.Duration(i) * time.Minute)})
	}
	mustRecord(t, store, 2, database.SenderUser, "hi")

	page, err := store.ListUsers(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if page.Total != 3 || len(page.Users) != 2 {
		t.Fatalf("ListUsers() total=%d len=%d, want 3 and 2", page.Total, len(page.Users))
	}
	if page.Users[0].UserID != 3 || page.Users[1].UserID != 2 {
		t.Errorf("ListUsers() order = %d,%d; want 3,2", page.Users[0].UserID, page.Users[1].UserID)
	}
	if page.Users[0].IsOnline || !page.Users[1].IsOnline {
		t.Errorf("ListUsers() online flags = %v,%v; want false,true", page.Users[0].IsOnline, page.Users[1].IsOnline)
	}

	second, err := store.ListUsers(ctx, 2, 2)
	if err != nil {
		t.Fatalf("ListUsers(page 2) error = %v", err)
	}
	if len(second.Users) != 1 || second.Users[0].UserID != 1 {
		t.Errorf("ListUsers(page 2) = %+v, want only user 1", second.Users)
	}

	clock.Advance(time.Minute)
	status, err := store.UserStatus(ctx, 2)
	if err != nil {
		t.Fatalf("UserStatus() error = %v", err)
	}
	if !status.IsOnline || status.LastActivity.String != baseTime.Format(database.TimeLayout) {
		t.Errorf("UserStatus() = %+v, want online with last activity at base time", status)
	}

	if _, err := store.UserStatus(ctx, 99); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("UserStatus(99) error = %v, want ErrUserNotFound", err)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	mustUpsert(t, store, database.NewUser{UserID: 1, JoinDate: baseTime.AddDate(0, 0, -1)})
	mustUpsert(t, store, database.NewUser{UserID: 2})
	mustUpsert(t, store, database.NewUser{UserID: 3})

	mustRecord(t, store, 1, database.SenderUser, "old")
	clock.Advance(2 * time.Hour)
	mustRecord(t, store, 2, database.SenderUser, "recent")
	mustRecord(t, store, 2, database.SenderAdmin, "reply")

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	want := database.Stats{TotalUsers: 3, ActiveUsers: 1, TotalMessages: 3, NewJoinsToday: 2}
	if *st != want {
		t.Errorf("Stats() = %+v, want %+v", *st, want)
	}
}

func TestSetLabel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	mustUpsert(t, store, database.NewUser{UserID: 1, Label: "new"})
	if err := store.SetLabel(ctx, 1, "vip"); err != nil {
		t.Fatalf("SetLabel() error = %v", err)
	}
	u, _ := store.GetUser(ctx, 1)
	if u.Label.String != "vip" {
		t.Errorf("label = %q, want vip", u.Label.String)
	}
	if err := store.SetLabel(ctx, 42, "vip"); err != nil {
		t.Errorf("SetLabel(missing) error = %v, want nil", err)
	}
	if _, err := store.GetUser(ctx, 42); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("GetUser(42) error = %v, want ErrUserNotFound after label update", err)
	}
}

func TestTrackingAndReconcile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, db, _ := newTestStore(t)

	mustUpsert(t, store, database.NewUser{UserID: 1, FullName: "Alice", InviteLink: "https://t.me/c?ref=1&uid=a"})
	mustUpsert(t, store, database.NewUser{UserID: 2, FullName: "Bob", ReferredBy: 1})
	mustUpsert(t, store, database.NewUser{UserID: 3, FullName: "Carol", ReferredBy: 1})

	st, err := store.TrackingStats(ctx)
	if err != nil {
		t.Fatalf("TrackingStats() error = %v", err)
	}
	if st.TotalReferrals != 2 || st.UsersWithTracking != 1 || st.TotalUsers != 3 {
		t.Errorf("TrackingStats() = %+v", st)
	}
	if st.ConversionRate != 33.33 {
		t.Errorf("ConversionRate = %v, want 33.33", st.ConversionRate)
	}
	if len(st.TopReferrers) != 1 || st.TopReferrers[0].UserID != 1 || st.TopReferrers[0].ReferralCount != 2 {
		t.Errorf("TopReferrers = %+v", st.TopReferrers)
	}
	if len(st.RecentReferrals) != 2 || st.RecentReferrals[0].ReferrerName.String != "Alice" {
		t.Errorf("RecentReferrals = %+v", st.RecentReferrals)
	}

	tr, err := store.UserTracking(ctx, 2)
	if err != nil {
		t.Fatalf("UserTracking(2) error = %v", err)
	}
	if tr.Referrer == nil || tr.Referrer.UserID != 1 || len(tr.Referrals) != 0 {
		t.Errorf("UserTracking(2) = %+v", tr)
	}
	if _, err := store.UserTracking(ctx, 99); !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("UserTracking(99) error = %v, want ErrUserNotFound", err)
	}

	if _, err := db.ExecContext(ctx, `UPDATE users SET referral_count = 7 WHERE user_id = 1`); err != nil {
		t.Fatalf("corrupt count: %v", err)
	}
	fixed, err := store.ReconcileReferralCounts(ctx)
	if err != nil {
		t.Fatalf("ReconcileReferralCounts() error = %v", err)
	}
	if fixed != 1 {
		t.Errorf("ReconcileReferralCounts() fixed %d rows, want 1", fixed)
	}
	alice, _ := store.GetUser(ctx, 1)
	if alice.ReferralCount != 2 {
		t.Errorf("Alice referral_count after reconcile = %d, want 2", alice.ReferralCount)
	}

	if err := store.RunSQLMaintenance(ctx); err != nil {
		t.Errorf("RunSQLMaintenance() error = %v", err)
	}
}

func TestDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in       string
		wantWAL  bool
		wantName string
	}{
		{in: "users.db", wantWAL: true, wantName: "users.db"},
		{in: "file:data/users.db?cache=shared", wantWAL: true, wantName: "data/users.db"},
		{in: ":memory:", wantWAL: false, wantName: ":memory:"},
	}
	for _, tt := range tests {
		dsn := database.DSN(tt.in)
		hasWAL := strings.Contains(dsn, "journal_mode%28WAL%29")
		if hasWAL != tt.wantWAL {
			t.Errorf("DSN(%q) = %q, WAL = %v, want %v", tt.in, dsn, hasWAL, tt.wantWAL)
		}
		if got := database.ExtractDBNameFromPath(tt.in); got != tt.wantName {
			t.Errorf("ExtractDBNameFromPath(%q) = %q, want %q", tt.in, got, tt.wantName)
		}
	}
}
