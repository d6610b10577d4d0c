package relay

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/supportrelay/internal/database"
	"github.com/edgard/supportrelay/internal/notify"
	"github.com/edgard/supportrelay/internal/telegram"
)

const captionLimit = 1024

// SendResult lists the admin messages recorded by a send.
type SendResult struct {
	Messages []database.Message
}

// BroadcastResult counts the users a broadcast reached.
type BroadcastResult struct {
	Count int
	Total int
}

// SendToUser delivers an admin message to one user. Uploads are validated
// before anything is sent or recorded.
func (s *Service) SendToUser(ctx context.Context, userID int64, text string, files []File) (*SendResult, error) {
	prepared, err := s.prepare(text, files)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, userID, text, prepared)
}

// Broadcast delivers an admin message to every known user. Per-user failures
// are logged and excluded from Count.
func (s *Service) Broadcast(ctx context.Context, text string, files []File) (*BroadcastResult, error) {
	prepared, err := s.prepare(text, files)
	if err != nil {
		return nil, err
	}

	userIDs, err := s.store.AllUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcast recipients: %w", err)
	}

	var delivered atomic.Int64
	g := errgroup.Group{}
	g.SetLimit(s.opts.BroadcastConcurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			if _, err := s.deliver(ctx, userID, text, prepared); err != nil {
				s.logger.WarnContext(ctx, "Broadcast delivery failed", "user_id", userID, "error", err)
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := &BroadcastResult{Count: int(delivered.Load()), Total: len(userIDs)}
	s.logger.InfoContext(ctx, "Broadcast finished", "delivered", result.Count, "total", result.Total, "files", len(prepared))
	return result, nil
}

func (s *Service) prepare(text string, files []File) ([]preparedFile, error) {
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return nil, ErrEmptyMessage
	}
	return prepareFiles(files, s.opts.MaxPhotoSize, s.opts.MaxFileSize)
}

// deliver records text before sending it and records files after Telegram
// accepted them, so file rows carry the stored file reference.
func (s *Service) deliver(ctx context.Context, userID int64, text string, files []preparedFile) (*SendResult, error) {
	if s.transport == nil {
		return nil, fmt.Errorf("%w: no transport configured", ErrSendFailed)
	}

	result := &SendResult{}
	room := notify.Room(userID)

	caption := ""
	if text != "" {
		msg, err := s.store.RecordMessage(ctx, userID, database.SenderAdmin, text)
		if err != nil {
			return nil, fmt.Errorf("failed to record admin message: %w", err)
		}
		result.Messages = append(result.Messages, *msg)
		s.publishMessage(ctx, msg, "", "", room)

		if len(files) > 0 && utf8.RuneCountInString(text) <= captionLimit {
			caption = text
		} else if err := s.transport.SendText(ctx, userID, text, nil); err != nil {
			return result, sendFailed(err)
		}
	}

	for i, f := range files {
		up := telegram.Upload{Method: f.Method, Filename: f.Name, Data: f.reader()}
		if i == 0 {
			up.Caption = caption
		}

		sent, err := s.transport.SendFile(ctx, userID, up)
		if err != nil {
			return result, sendFailed(err)
		}

		msg, err := s.store.RecordMessage(ctx, userID, database.SenderAdmin, FormatPayload(f.Kind, s.sentFileRef(ctx, sent, f.Name)))
		if err != nil {
			return result, fmt.Errorf("failed to record admin file: %w", err)
		}
		result.Messages = append(result.Messages, *msg)
		s.publishMessage(ctx, msg, "", "", room)
	}

	s.publisher.Publish(ctx, notify.EventAdminMessageSent, map[string]any{"user_id": userID, "count": len(result.Messages)}, room)
	return result, nil
}

// sentFileRef resolves the stored reference of an uploaded file, falling back
// to a name based placeholder.
func (s *Service) sentFileRef(ctx context.Context, sent *telegram.SentFile, name string) string {
	fallback := "admin-sent-" + name
	if sent == nil || sent.FileID == "" {
		return fallback
	}
	filePath, err := s.transport.ResolveFile(ctx, sent.FileID)
	if err != nil || filePath == "" {
		s.logger.WarnContext(ctx, "Could not resolve sent file", "file_id", sent.FileID, "error", err)
		return fallback
	}
	return telegram.MediaRef(filePath)
}
