package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-core/internal/apperr"
	"chat-core/internal/models"
)

const (
	MaxAttachmentBytes = 10 << 20
	MaxAudioBytes      = 5 << 20
	maxFilenameLen     = 255
)

// Upload is an attachment as received from the transport.
type Upload struct {
	Reader io.Reader
	Name   string
	// DeclaredMIME is the client-supplied content type, possibly empty.
	DeclaredMIME string
}

// Stored is the outcome of a successful ingestion.
type Stored struct {
	Key        string
	Type       models.MessageType
	Attachment models.Attachment
}

// Ingestor validates attachments and hands their bytes to a BlobStore.
type Ingestor struct {
	store    BlobStore
	timeout  time.Duration
	validate *validator.Validate
	log      *zap.Logger
}

// NewIngestor builds an Ingestor. Blob store calls are bounded by timeout.
func NewIngestor(store BlobStore, timeout time.Duration, log *zap.Logger) *Ingestor {
	return &Ingestor{store: store, timeout: timeout, validate: validator.New(), log: log}
}

// Ingest stores an upload for a message of the declared type. An empty type is
// inferred from the content. Nothing is stored when validation fails.
func (i *Ingestor) Ingest(ctx context.Context, up Upload, declared models.MessageType) (Stored, error) {
	const op = "ingest"

	limit := int64(MaxAttachmentBytes)
	if declared == models.MessageAudio {
		limit = MaxAudioBytes
	}
	data, err := io.ReadAll(io.LimitReader(up.Reader, limit+1))
	if err != nil {
		return Stored{}, apperr.Wrap(apperr.InvalidArgument, op, err)
	}
	if len(data) == 0 {
		return Stored{}, apperr.E(apperr.InvalidArgument, op, "empty file")
	}
	if int64(len(data)) > limit {
		return Stored{}, apperr.E(apperr.InvalidArgument, op, "file exceeds %d MB", limit>>20)
	}

	detected := mimetype.Detect(data)
	mime := strings.ToLower(strings.TrimSpace(up.DeclaredMIME))
	if mime == "" || mime == "application/octet-stream" {
		mime = detected.String()
	}
	if semi := strings.IndexByte(mime, ';'); semi >= 0 {
		mime = strings.TrimSpace(mime[:semi])
	}

	msgType := declared
	if msgType == "" {
		msgType = TypeForMIME(mime)
	}
	if !msgType.HasAttachment() {
		return Stored{}, apperr.E(apperr.InvalidArgument, op, "message type %q does not carry a file", msgType)
	}
	if msgType == models.MessageAudio {
		if int64(len(data)) > MaxAudioBytes {
			return Stored{}, apperr.E(apperr.InvalidArgument, op, "audio exceeds %d MB", MaxAudioBytes>>20)
		}
		if !strings.HasPrefix(mime, "audio/") {
			return Stored{}, apperr.E(apperr.InvalidArgument, op, "audio messages require an audio/* file, got %q", mime)
		}
	}

	name := SanitizeFilename(up.Name)
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = detected.Extension()
	}
	key := folderFor(msgType) + "/" + uuid.NewString() + ext

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()
	locator, err := i.store.Store(ctx, key, bytes.NewReader(data), int64(len(data)), mime)
	if err != nil {
		i.log.Warn("blob store failed", zap.String("key", key), zap.Error(err))
		return Stored{}, apperr.Wrap(apperr.Unavailable, "blob store", err)
	}

	return Stored{
		Key:  key,
		Type: msgType,
		Attachment: models.Attachment{
			URL:      locator,
			Name:     name,
			Size:     int64(len(data)),
			MIMEType: mime,
		},
	}, nil
}

// Discard removes a stored blob whose message could not be persisted.
func (i *Ingestor) Discard(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()
	if err := i.store.Delete(ctx, key); err != nil {
		i.log.Warn("blob cleanup failed", zap.String("key", key), zap.Error(err))
	}
}

// Validate checks the type-specific payload of a send before anything is written.
func (i *Ingestor) Validate(req *models.SendMessageRequest) error {
	const op = "sendMessage"

	switch req.Type {
	case models.MessageText:
		if req.Body == nil || strings.TrimSpace(*req.Body) == "" {
			return apperr.E(apperr.InvalidArgument, op, "text messages require a body")
		}
	case models.MessageLocation:
		if req.Location == nil {
			return apperr.E(apperr.InvalidArgument, op, "location messages require latitude and longitude")
		}
		if err := i.validate.Struct(req.Location); err != nil {
			return apperr.E(apperr.InvalidArgument, op, "invalid location: %s", fieldErrors(err))
		}
	case models.MessageFile, models.MessageImage, models.MessageVideo, models.MessageAudio:
		if req.Attachment == nil {
			return apperr.E(apperr.InvalidArgument, op, "%s messages require an attachment", req.Type)
		}
		if err := i.validate.Struct(req.Attachment); err != nil {
			return apperr.E(apperr.InvalidArgument, op, "invalid attachment: %s", fieldErrors(err))
		}
		limit := int64(MaxAttachmentBytes)
		if req.Type == models.MessageAudio {
			limit = MaxAudioBytes
			if !strings.HasPrefix(strings.ToLower(req.Attachment.MIMEType), "audio/") {
				return apperr.E(apperr.InvalidArgument, op, "audio messages require an audio/* attachment, got %q", req.Attachment.MIMEType)
			}
			if req.Audio != nil {
				if err := i.validate.Struct(req.Audio); err != nil {
					return apperr.E(apperr.InvalidArgument, op, "invalid audio metadata: %s", fieldErrors(err))
				}
			}
		}
		if req.Attachment.Size > limit {
			return apperr.E(apperr.InvalidArgument, op, "attachment exceeds %d MB", limit>>20)
		}
	default:
		return apperr.E(apperr.InvalidArgument, op, "unknown message type %q", req.Type)
	}
	if !req.Type.HasAttachment() {
		req.Attachment = nil
	}
	if req.Type != models.MessageLocation {
		req.Location = nil
	}
	if req.Type != models.MessageAudio {
		req.Audio = nil
	}
	return nil
}

func fieldErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
	}
	return strings.Join(parts, ", ")
}

// TypeForMIME picks the message type of an attachment from its MIME type.
func TypeForMIME(mime string) models.MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.MessageImage
	case strings.HasPrefix(mime, "video/"):
		return models.MessageVideo
	case strings.HasPrefix(mime, "audio/"):
		return models.MessageAudio
	}
	return models.MessageFile
}

func folderFor(t models.MessageType) string {
	switch t {
	case models.MessageImage:
		return "images"
	case models.MessageVideo:
		return "videos"
	case models.MessageAudio:
		return "audio"
	}
	return "files"
}

// SanitizeFilename keeps only the base name of a client-supplied filename.
func SanitizeFilename(raw string) string {
	name := filepath.Base(strings.TrimSpace(strings.ReplaceAll(raw, `\`, "/")))
	if name == "" || name == "." || name == "/" || strings.Contains(name, "..") {
		name = "file"
	}
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}
