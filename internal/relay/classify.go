// Package relay implements the support relay: ingress classification, media
// group aggregation, admin sends and the join-request flow.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
)

// Kind is the attachment type stored in a "[kind]reference" payload.
type Kind string

// Attachment kinds.
const (
	KindText       Kind = "text"
	KindImage      Kind = "image"
	KindGIF        Kind = "gif"
	KindVideo      Kind = "video"
	KindVoice      Kind = "voice"
	KindAudio      Kind = "audio"
	KindDocument   Kind = "document"
	KindGroupMedia Kind = "group_media"
)

const gifHeaderLen = 6

var (
	gif87a = []byte("GIF87a")
	gif89a = []byte("GIF89a")
)

// ImageHints are the signals available for an image-like attachment.
type ImageHints struct {
	OriginalFilename string
	MimeType         string
	FilePath         string
}

// Prober reads the first bytes of a stored file.
type Prober interface {
	ProbeHeader(ctx context.Context, filePath string, n int) ([]byte, error)
}

// ClassifyImage decides between gif and image. Cheap signals are checked
// first; the content probe runs only when they are inconclusive. A failed
// probe degrades to image.
func ClassifyImage(ctx context.Context, hints ImageHints, prober Prober, logger *slog.Logger) Kind {
	filePath := strings.ToLower(hints.FilePath)

	switch {
	case strings.HasSuffix(strings.ToLower(hints.OriginalFilename), ".gif"):
		return KindGIF
	case strings.Contains(strings.ToLower(hints.MimeType), "image/gif"):
		return KindGIF
	case strings.HasSuffix(filePath, ".gif"):
		return KindGIF
	case strings.Contains(filePath, "gif"):
		return KindGIF
	}

	if prober == nil || hints.FilePath == "" {
		return KindImage
	}

	head, err := prober.ProbeHeader(ctx, hints.FilePath, gifHeaderLen)
	if err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "GIF header probe failed, classifying as image", "file_path", hints.FilePath, "error", err)
		}
		return KindImage
	}
	if IsGIFHeader(head) {
		return KindGIF
	}
	return KindImage
}

// IsGIFHeader reports whether head starts with a GIF signature.
func IsGIFHeader(head []byte) bool {
	return bytes.HasPrefix(head, gif87a) || bytes.HasPrefix(head, gif89a)
}

// ClassifyAudio separates voice notes from music files by name.
func ClassifyAudio(filename string) Kind {
	name := strings.ToLower(filename)
	if strings.EqualFold(path.Ext(name), ".m4a") || strings.Contains(name, "voice") {
		return KindVoice
	}
	return KindAudio
}

// FormatPayload renders a stored message body for an attachment.
func FormatPayload(kind Kind, ref string) string {
	return "[" + string(kind) + "]" + ref
}

// GroupItem is one attachment of a media group.
type GroupItem struct {
	Kind    Kind   `json:"type"`
	FileURL string `json:"file_url"`
	Caption string `json:"caption"`
}

type groupPayload struct {
	Type  Kind        `json:"type"`
	Items []GroupItem `json:"items"`
	Count int         `json:"count"`
}

// GroupPayload renders a flushed media group. A single item is stored like an
// ordinary attachment.
func GroupPayload(items []GroupItem) (string, error) {
	switch len(items) {
	case 0:
		return "", errors.New("empty media group")
	case 1:
		return FormatPayload(items[0].Kind, items[0].FileURL), nil
	}

	data, err := json.Marshal(groupPayload{Type: KindGroupMedia, Items: items, Count: len(items)})
	if err != nil {
		return "", fmt.Errorf("failed to encode media group: %w", err)
	}
	return FormatPayload(KindGroupMedia, string(data)), nil
}

// FileOpener streams a stored Telegram file.
type FileOpener interface {
	OpenFile(ctx context.Context, filePath, rangeHeader string) (*http.Response, error)
}

// HeaderProber implements Prober with ranged downloads.
type HeaderProber struct {
	Opener  FileOpener
	Timeout time.Duration
}

// ProbeHeader downloads at most n bytes of filePath.
func (p HeaderProber) ProbeHeader(ctx context.Context, filePath string, n int) ([]byte, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	resp, err := p.Opener.OpenFile(ctx, filePath, fmt.Sprintf("bytes=0-%d", n-1))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	head := make([]byte, n)
	read, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}
	return head[:read], nil
}
