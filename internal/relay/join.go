package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/links"
	"github.com/edgard/supportrelay/internal/notify"
	"github.com/edgard/supportrelay/internal/telegram"
)

// JoinedCallback is the callback data of the "I've joined" button.
const JoinedCallback = "joined_channel"

// JoinTransport is what the join-request flow needs from a Bot API client.
// Both transport loops provide one.
type JoinTransport interface {
	PhotoSource
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	SendText(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) error
}

// JoinRequest is a pending request to join the managed channel.
type JoinRequest struct {
	ChatID     int64
	UserID     int64
	FullName   string
	Username   string
	InviteLink string
	InviteName string
}

// Start is a /start command with its optional payload.
type Start struct {
	UserID   int64
	FullName string
	Username string
	Payload  string
}

// HandleJoinRequest approves a join request, registers the user and greets
// them. Users who are already members are registered but not greeted again.
func (s *Service) HandleJoinRequest(ctx context.Context, tr JoinTransport, req JoinRequest) error {
	alreadyMember := false
	if err := tr.ApproveJoinRequest(ctx, req.ChatID, req.UserID); err != nil {
		if !telegram.IsKind(err, telegram.KindAlreadyParticipant) {
			return fmt.Errorf("failed to approve join request of %d: %w", req.UserID, err)
		}
		s.logger.InfoContext(ctx, "User is already a participant", "user_id", req.UserID, "chat_id", req.ChatID)
		alreadyMember = true
	}

	referredBy, ok := links.ParseReferrer(req.InviteLink)
	if !ok {
		referredBy, ok = links.ParseReferrer(req.InviteName)
	}
	inviteLink := req.InviteLink
	if !ok {
		inviteLink = s.links.ChannelLink(req.UserID)
	}

	created, err := s.store.UpsertUser(ctx, database.NewUser{
		UserID:     req.UserID,
		FullName:   req.FullName,
		Username:   req.Username,
		InviteLink: inviteLink,
		PhotoURL:   s.refreshPhoto(ctx, tr, req.UserID),
		ReferredBy: referredBy,
	})
	if err != nil {
		return fmt.Errorf("failed to register joined user: %w", err)
	}
	if created {
		s.publishJoined(ctx, req.UserID, req.FullName, req.Username, inviteLink, referredBy)
	}
	if alreadyMember && !created {
		return nil
	}

	welcome := render(s.opts.Messages.JoinWelcome, req.FullName, req.UserID, referredBy, inviteLink)
	if err := tr.SendText(ctx, req.UserID, welcome, nil); err != nil {
		s.logSendFailure(ctx, "Failed to send welcome message", req.UserID, err)
	}

	if created && referredBy != 0 && referredBy != req.UserID {
		notice := render(s.opts.Messages.ReferrerNotice, req.FullName, req.UserID, referredBy, inviteLink)
		if err := tr.SendText(ctx, referredBy, notice, nil); err != nil {
			s.logSendFailure(ctx, "Failed to notify referrer", referredBy, err)
		}
	}
	return nil
}

// HandleStart registers a user who opened the bot and replies with the
// matching welcome. A chat_<id> payload credits the owner of that link.
func (s *Service) HandleStart(ctx context.Context, st Start) error {
	if s.transport == nil {
		return errors.New("start requires a transport")
	}

	if referrerID, ok := links.ParseStartPayload(st.Payload); ok {
		return s.startFromPersonalLink(ctx, st, referrerID)
	}

	if _, err := s.store.GetUser(ctx, st.UserID); err == nil {
		return s.reply(ctx, st.UserID, render(s.opts.Messages.PersonalWelcome, st.FullName, st.UserID, 0, ""), nil)
	} else if !errors.Is(err, database.ErrUserNotFound) {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	link := s.links.PersonalBotLink(ctx, st.UserID)
	created, err := s.store.UpsertUser(ctx, database.NewUser{
		UserID:     st.UserID,
		FullName:   st.FullName,
		Username:   st.Username,
		InviteLink: link,
		PhotoURL:   s.refreshPhoto(ctx, s.transport, st.UserID),
	})
	if err != nil {
		return fmt.Errorf("failed to register user: %w", err)
	}
	if created {
		s.publishJoined(ctx, st.UserID, st.FullName, st.Username, link, 0)
	}

	kb := telegram.Keyboard{
		{{Text: s.opts.Messages.JoinButton, URL: s.opts.ChannelURL}},
		{{Text: s.opts.Messages.JoinedButton, CallbackData: JoinedCallback}},
	}
	return s.reply(ctx, st.UserID, render(s.opts.Messages.Welcome, st.FullName, st.UserID, 0, link), kb)
}

func (s *Service) startFromPersonalLink(ctx context.Context, st Start, referrerID int64) error {
	if referrerID == st.UserID {
		s.logger.DebugContext(ctx, "Ignoring self referral", "user_id", st.UserID)
		referrerID = 0
	}

	link := ""
	if referrerID != 0 {
		link = s.links.PersonalBotLink(ctx, referrerID)
	}
	created, err := s.store.UpsertUser(ctx, database.NewUser{
		UserID:     st.UserID,
		FullName:   st.FullName,
		Username:   st.Username,
		InviteLink: link,
		PhotoURL:   s.refreshPhoto(ctx, s.transport, st.UserID),
		ReferredBy: referrerID,
	})
	if err != nil {
		return fmt.Errorf("failed to register referred user: %w", err)
	}

	if err := s.reply(ctx, st.UserID, render(s.opts.Messages.PersonalWelcome, st.FullName, st.UserID, referrerID, ""), nil); err != nil {
		return err
	}
	if !created {
		return nil
	}

	s.publishJoined(ctx, st.UserID, st.FullName, st.Username, link, referrerID)
	if s.opts.ReceptionistID != 0 && referrerID != 0 {
		notice := render(s.opts.Messages.ReceptionistNotice, st.FullName, st.UserID, referrerID, link)
		if err := s.transport.SendText(ctx, s.opts.ReceptionistID, notice, nil); err != nil {
			s.logSendFailure(ctx, "Failed to notify receptionist", s.opts.ReceptionistID, err)
		}
	}
	return nil
}

// HandleJoined thanks a user who pressed the "I've joined" button.
func (s *Service) HandleJoined(ctx context.Context, userID int64, fullName string) error {
	if s.transport == nil {
		return errors.New("joined callback requires a transport")
	}
	return s.reply(ctx, userID, render(s.opts.Messages.JoinedThanks, fullName, userID, 0, ""), nil)
}

// Apologize sends the generic error text. Failures are only logged.
func (s *Service) Apologize(ctx context.Context, chatID int64) {
	if s.transport == nil {
		return
	}
	if err := s.transport.SendText(ctx, chatID, s.opts.Messages.GeneralError, nil); err != nil {
		s.logSendFailure(ctx, "Failed to send error notice", chatID, err)
	}
}

func (s *Service) reply(ctx context.Context, chatID int64, text string, kb telegram.Keyboard) error {
	if err := s.transport.SendText(ctx, chatID, text, kb); err != nil {
		if telegram.IsKind(err, telegram.KindForbidden) {
			s.logSendFailure(ctx, "Failed to reply", chatID, err)
			return nil
		}
		return fmt.Errorf("failed to reply to %d: %w", chatID, err)
	}
	return nil
}

func (s *Service) publishJoined(ctx context.Context, userID int64, fullName, username, inviteLink string, referredBy int64) {
	s.publisher.Publish(ctx, notify.EventNewUserJoined, UserJoinedEvent{
		UserID:     userID,
		FullName:   fullName,
		Username:   username,
		InviteLink: inviteLink,
		ReferredBy: referredBy,
	}, "")
}
