package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/telegram"
)

// Attachment describes the single file carried by an inbound message.
// ImageLike marks photos and image documents, which go through gif detection.
type Attachment struct {
	Kind      Kind
	ImageLike bool
	FileID    string
	FileName  string
	MimeType  string
	FileSize  int64
}

// Inbound is one message written by an end user.
type Inbound struct {
	UserID       int64
	FullName     string
	Username     string
	Text         string
	Caption      string
	MediaGroupID string
	Attachment   *Attachment
}

// HandleInbound stores a user message and notifies the dashboard. Media
// group items are buffered and stored when the group flushes.
func (s *Service) HandleInbound(ctx context.Context, in Inbound) error {
	if in.UserID == 0 {
		return errors.New("inbound message without user")
	}
	if in.Attachment == nil && in.Text == "" {
		s.logger.DebugContext(ctx, "Ignoring empty inbound message", "user_id", in.UserID)
		return nil
	}

	s.touchUser(ctx, in)

	if in.Attachment == nil {
		return s.recordInbound(ctx, in, in.Text)
	}

	att := in.Attachment
	if att.FileSize > s.opts.MaxPhotoSize {
		s.logger.InfoContext(ctx, "Rejecting oversize inbound file", "user_id", in.UserID, "size", att.FileSize)
		if s.transport != nil {
			if err := s.transport.SendText(ctx, in.UserID, s.opts.Messages.FileTooLarge, nil); err != nil {
				s.logSendFailure(ctx, "Failed to send file size notice", in.UserID, err)
			}
		}
		return nil
	}

	kind, ref := s.classify(ctx, att)

	if in.MediaGroupID != "" {
		s.aggregator.Add(GroupKey(in.UserID, in.MediaGroupID), in.UserID, GroupItem{Kind: kind, FileURL: ref, Caption: in.Caption})
		return nil
	}
	return s.recordInbound(ctx, in, FormatPayload(kind, ref))
}

// touchUser creates the user on first contact and refreshes the stored photo.
func (s *Service) touchUser(ctx context.Context, in Inbound) {
	photo := s.refreshPhoto(ctx, s.transport, in.UserID)

	created, err := s.store.UpsertUser(ctx, database.NewUser{
		UserID:   in.UserID,
		FullName: in.FullName,
		Username: in.Username,
		PhotoURL: photo,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to upsert user", "user_id", in.UserID, "error", err)
		return
	}
	if !created && photo != "" {
		if err := s.store.SetPhotoURL(ctx, in.UserID, photo); err != nil {
			s.logger.WarnContext(ctx, "Failed to refresh profile photo", "user_id", in.UserID, "error", err)
		}
	}
}

// classify resolves the file and picks its kind. Lookup failures keep the
// file id as the reference and the least specific kind.
func (s *Service) classify(ctx context.Context, att *Attachment) (Kind, string) {
	var filePath string
	if s.transport != nil {
		p, err := s.transport.ResolveFile(ctx, att.FileID)
		if err != nil {
			s.logger.WarnContext(ctx, "Could not resolve file", "file_id", att.FileID, "error", err)
		}
		filePath = p
	}

	ref := att.FileID
	if filePath != "" {
		ref = telegram.MediaRef(filePath)
	}

	if !att.ImageLike {
		return att.Kind, ref
	}
	kind := ClassifyImage(ctx, ImageHints{
		OriginalFilename: att.FileName,
		MimeType:         att.MimeType,
		FilePath:         filePath,
	}, s.prober, s.logger)
	return kind, ref
}

func (s *Service) recordInbound(ctx context.Context, in Inbound, payload string) error {
	msg, err := s.store.RecordMessage(ctx, in.UserID, database.SenderUser, payload)
	if err != nil {
		return fmt.Errorf("failed to record inbound message: %w", err)
	}
	s.publishMessage(ctx, msg, in.FullName, in.Username, "")
	return nil
}

// flushGroup stores a completed media group. It runs on a timer goroutine, so
// it uses a fresh context.
func (s *Service) flushGroup(userID int64, items []GroupItem) {
	ctx := context.Background()

	payload, err := GroupPayload(items)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to build media group payload", "user_id", userID, "error", err)
		return
	}

	msg, err := s.store.RecordMessage(ctx, userID, database.SenderUser, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to record media group", "user_id", userID, "items", len(items), "error", err)
		return
	}
	s.logger.DebugContext(ctx, "Media group flushed", "user_id", userID, "items", len(items))

	var fullName, username string
	if u, err := s.store.GetUser(ctx, userID); err == nil {
		fullName, username = u.FullName, u.Username
	}
	s.publishMessage(ctx, msg, fullName, username, "")
}
