package chat

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/Tyrowin/roomcast/internal/metrics"
	"github.com/Tyrowin/roomcast/internal/model"
)

var allowedExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "pdf": {}, "doc": {},
	"docx": {}, "txt": {}, "mp3": {}, "mp4": {}, "zip": {},
}

// FileUpload describes a file already written by the upload handler.
type FileUpload struct {
	OriginalName string
	StoredName   string
	Size         int64
}

// RegisterUpload validates an upload and records its metadata. The returned
// file id can then be referenced by a file_share event.
func (c *Coordinator) RegisterUpload(ctx context.Context, username string, up FileUpload) (*model.FileShare, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.checkNotBanned(username); err != nil {
		return nil, err
	}
	if err := c.allow(username, ActionUpload); err != nil {
		return nil, err
	}

	name := filepath.Base(strings.TrimSpace(up.OriginalName))
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := allowedExtensions[ext]; !ok {
		return nil, validationf("file type %q is not allowed", ext)
	}
	if up.Size <= 0 {
		return nil, validationf("file is empty")
	}
	if up.Size > c.limits.MaxUploadSize {
		return nil, validationf("file exceeds %d bytes", c.limits.MaxUploadSize)
	}
	if up.StoredName == "" {
		return nil, validationf("stored name is required")
	}

	f := c.store.AddFileShare(model.FileShare{
		ID:           c.newID(),
		StoredName:   up.StoredName,
		OriginalName: c.sanitize.Sanitize(name),
		UploadedBy:   username,
		UploadTime:   c.now(),
		Size:         up.Size,
	})
	c.log.Info().Str("user", username).Str("file", f.ID).Int64("size", f.Size).Msg("file registered")
	return f, nil
}

// RecordDownload bumps the download counter of a file and returns its metadata.
func (c *Coordinator) RecordDownload(fileID string) (*model.FileShare, error) {
	if _, err := c.store.RecordDownload(fileID); err != nil {
		return nil, notFound("file not found", err)
	}
	f, err := c.store.GetFileShare(fileID)
	if err != nil {
		return nil, notFound("file not found", err)
	}
	return f, nil
}

// AllowLogin applies the login policy to an origin, typically a remote address.
func (c *Coordinator) AllowLogin(origin string) bool {
	if c.limiter.AllowPolicy(origin, ActionLogin, c.limits.Login) {
		return true
	}
	metrics.RateLimitedTotal.WithLabelValues(ActionLogin).Inc()
	c.securityEvent(origin, "login rate limit exceeded")
	return false
}
