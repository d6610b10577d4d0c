package relay

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/edgard/supportrelay/internal/telegram"
)

var (
	// ErrFileTooLarge is wrapped by every size ValidationError.
	ErrFileTooLarge = errors.New("file too large")

	// ErrEmptyMessage is returned when a send carries neither text nor files.
	ErrEmptyMessage = errors.New("message or files required")

	// ErrSendFailed wraps transport failures of admin sends.
	ErrSendFailed = errors.New("send failed")
)

const sniffLen = 3072

// ValidationError rejects an upload before any transport call.
type ValidationError struct {
	Filename string
	Limit    int64
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is too large, maximum size is %dMB", e.Filename, e.Limit>>20)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// File is one admin upload. Content is read with ReadAt so the same file can
// be sent to many chats concurrently. MIME is the type declared by the
// uploader and may be empty.
type File struct {
	Name    string
	MIME    string
	Size    int64
	Content io.ReaderAt
}

// preparedFile is a File with its resolved kind and upload method.
type preparedFile struct {
	File
	Kind   Kind
	Method telegram.UploadMethod
}

func (p preparedFile) reader() io.Reader {
	return io.NewSectionReader(p.Content, 0, p.Size)
}

var extensionKinds = map[string]Kind{
	".jpg":  KindImage,
	".jpeg": KindImage,
	".png":  KindImage,
	".webp": KindImage,
	".gif":  KindGIF,
	".mp4":  KindVideo,
	".mov":  KindVideo,
	".webm": KindVideo,
	".mkv":  KindVideo,
	".mp3":  KindAudio,
	".wav":  KindAudio,
	".flac": KindAudio,
	".m4a":  KindAudio,
	".ogg":  KindAudio,
	".oga":  KindAudio,
}

// ClassifyUpload picks the attachment kind of an upload. A .gif name or a
// declared image/gif wins over the content; otherwise the sniffed type, the
// declared type and the extension are tried in that order.
func ClassifyUpload(name, declared string, head []byte) Kind {
	declared = strings.ToLower(declared)
	if strings.HasSuffix(strings.ToLower(name), ".gif") || strings.Contains(declared, "image/gif") || IsGIFHeader(head) {
		return KindGIF
	}

	if kind, ok := kindForMIME(mimetype.Detect(head).String(), name); ok {
		return kind
	}
	if kind, ok := kindForMIME(declared, name); ok {
		return kind
	}

	if kind, ok := extensionKinds[strings.ToLower(path.Ext(name))]; ok {
		if kind == KindAudio {
			return ClassifyAudio(name)
		}
		return kind
	}
	return KindDocument
}

func kindForMIME(mime, name string) (Kind, bool) {
	switch {
	case strings.HasPrefix(mime, "image/gif"):
		return KindGIF, true
	case strings.HasPrefix(mime, "image/"):
		return KindImage, true
	case strings.HasPrefix(mime, "video/"):
		return KindVideo, true
	case strings.HasPrefix(mime, "audio/"):
		return ClassifyAudio(name), true
	}
	return "", false
}

// UploadMethodFor maps a kind to the Bot API method that delivers it.
func UploadMethodFor(kind Kind) telegram.UploadMethod {
	switch kind {
	case KindImage:
		return telegram.UploadPhoto
	case KindGIF:
		return telegram.UploadAnimation
	case KindVideo:
		return telegram.UploadVideo
	case KindAudio:
		return telegram.UploadAudio
	case KindVoice:
		return telegram.UploadVoice
	default:
		return telegram.UploadDocument
	}
}

// prepareFiles classifies and size-checks every upload. It fails on the first
// rejected file. Anything image-like, GIFs included, is held to the photo limit.
func prepareFiles(files []File, maxPhoto, maxFile int64) ([]preparedFile, error) {
	prepared := make([]preparedFile, 0, len(files))
	for _, f := range files {
		if f.Size > maxFile {
			return nil, &ValidationError{Filename: f.Name, Limit: maxFile, Err: ErrFileTooLarge}
		}

		head := make([]byte, min(f.Size, sniffLen))
		n, err := f.Content.ReadAt(head, 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
		head = head[:n]

		kind := ClassifyUpload(f.Name, f.MIME, head)
		imageLike := kind == KindImage || kind == KindGIF || strings.HasPrefix(strings.ToLower(f.MIME), "image/")
		if imageLike && f.Size > maxPhoto {
			return nil, &ValidationError{Filename: f.Name, Limit: maxPhoto, Err: ErrFileTooLarge}
		}
		prepared = append(prepared, preparedFile{File: f, Kind: kind, Method: UploadMethodFor(kind)})
	}
	return prepared, nil
}
