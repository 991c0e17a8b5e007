package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"jerosync/internal/constants"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/models"
	"jerosync/pkg/gateway"

	"github.com/sirupsen/logrus"
)

// FeedInvalidator drops a cached feed after a local mutation
type FeedInvalidator interface {
	Invalidate()
}

// StatusComposer creates and deletes the local user's statuses
type StatusComposer struct {
	gateway    gateway.Client
	feed       FeedInvalidator
	self       string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewStatusComposer creates a composer acting as self
func NewStatusComposer(gw gateway.Client, feed FeedInvalidator, self string, httpClient *http.Client, logger *logrus.Logger) *StatusComposer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(constants.DefaultAudioFetchSec) * time.Second}
	}
	return &StatusComposer{
		gateway:    gw,
		feed:       feed,
		self:       self,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Create posts a new status and invalidates the feed
func (c *StatusComposer) Create(ctx context.Context, media models.Media, caption string, audio *models.MediaRef) error {
	if err := validateMedia(media); err != nil {
		return err
	}
	if utf8.RuneCountInString(caption) > constants.MaxCaptionLength {
		return apperrors.NewValidationError("caption", "", fmt.Sprintf("caption is limited to %d characters", constants.MaxCaptionLength))
	}
	if audio != nil && strings.TrimSpace(audio.URL) == "" {
		return apperrors.NewValidationError("audio_track", "", "audio track needs a URL")
	}

	if err := c.gateway.CreateStatus(ctx, media, caption, audio); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"media_kind": media.Kind(),
		"has_audio":  audio != nil,
	}).Info("Status created")
	c.invalidate()
	return nil
}

func validateMedia(media models.Media) error {
	switch m := media.(type) {
	case models.TextMedia:
		if strings.TrimSpace(m.Text) == "" {
			return apperrors.NewValidationError("text", "", "please enter some text for your status")
		}
	case models.PhotoMedia:
		return validateRef("photo", m.Ref)
	case models.VideoMedia:
		return validateRef("video", m.Ref)
	case models.MusicMedia:
		return validateRef("music", m.Ref)
	default:
		return apperrors.NewValidationError("media", "", "a status needs text, a photo, a video or music")
	}
	return nil
}

func validateRef(field string, ref models.MediaRef) error {
	if strings.TrimSpace(ref.URL) == "" {
		return apperrors.NewValidationError(field, "", "a file is required")
	}
	return nil
}

// Delete removes item if self authored it, then tells the viewer. On failure
// the viewer is left where it was.
func (c *StatusComposer) Delete(ctx context.Context, nav *StatusNavigator, item models.StatusItem) error {
	if !models.SamePrincipal(c.self, item.Author) {
		return apperrors.NewUnauthorizedError("only the author can delete a status").
			WithContext("status_id", item.ID)
	}

	if err := c.gateway.DeleteStatus(ctx, item.Author, item.ID); err != nil {
		c.logger.WithFields(apperrors.Fields(err)).
			WithField(LogFieldStatusID, item.ID).
			Warn("Failed to delete status")
		return err
	}

	c.logger.WithField(LogFieldStatusID, item.ID).Info("Status deleted")
	c.invalidate()
	if nav != nil {
		nav.OnDeleted()
	}
	return nil
}

func (c *StatusComposer) invalidate() {
	if c.feed != nil {
		c.feed.Invalidate()
	}
}

func audioError(message, userMessage string) *apperrors.AppError {
	return apperrors.New(apperrors.ErrCodeValidationFailed, message).
		WithContext("field", "audio_url").
		WithUserMessage(userMessage)
}

// ResolveAudioURL checks that rawURL serves a non-empty audio file of at
// most 1 GiB and describes it as a MediaRef.
func (c *StatusComposer) ResolveAudioURL(ctx context.Context, rawURL string) (models.MediaRef, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return models.MediaRef{}, audioError("invalid audio url",
			"Invalid URL. Please enter a valid direct audio file URL (e.g., https://example.com/track.mp3).")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return models.MediaRef{}, audioError("unsupported audio url scheme",
			"Invalid URL protocol. Only HTTP and HTTPS URLs are supported.")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return models.MediaRef{}, audioError(err.Error(), "Invalid URL. Please check it and try again.")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.MediaRef{}, audioError(fmt.Sprintf("audio fetch failed: %v", err),
			"Network error. Please check your internet connection and try again.")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.MediaRef{}, audioError("audio not found",
			"Audio file not found (404). Please check the URL and try again.")
	case resp.StatusCode == http.StatusForbidden:
		return models.MediaRef{}, audioError("audio forbidden",
			"Access forbidden (403). The server does not allow access to this file.")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return models.MediaRef{}, audioError(fmt.Sprintf("audio fetch returned status %d", resp.StatusCode),
			fmt.Sprintf("Failed to fetch audio (HTTP %d). Please check the URL and try again.", resp.StatusCode))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(contentType), "audio/") {
		return models.MediaRef{}, audioError(fmt.Sprintf("content type %q is not audio", contentType),
			"Invalid file type. The URL does not point to an audio file.")
	}

	tooLarge := audioError("audio file too large", "Audio file too large. Maximum file size is 1 GB.")
	if header := resp.Header.Get("Content-Length"); header != "" {
		if declared, err := strconv.ParseInt(header, 10, 64); err == nil && declared > constants.MaxAudioSizeBytes {
			return models.MediaRef{}, tooLarge
		}
	}

	size, err := io.Copy(io.Discard, io.LimitReader(resp.Body, constants.MaxAudioSizeBytes+1))
	if err != nil {
		return models.MediaRef{}, audioError(fmt.Sprintf("audio download failed: %v", err),
			"Failed to download audio file. Please try again.")
	}
	if size > constants.MaxAudioSizeBytes {
		return models.MediaRef{}, tooLarge
	}
	if size == 0 {
		return models.MediaRef{}, audioError("audio file is empty",
			"Audio file is empty. Please use a valid audio file URL.")
	}

	ref := models.MediaRef{
		URL:         parsed.String(),
		ContentType: contentType,
		Name:        audioFilename(parsed, resp.Header.Get("Content-Disposition")),
		Size:        size,
	}
	c.logger.WithFields(logrus.Fields{
		LogFieldSize: size,
		"file_name":  ref.Name,
	}).Debug("Resolved remote audio track")
	return ref, nil
}

// audioFilename prefers Content-Disposition, then a dotted last path segment
func audioFilename(u *url.URL, contentDisposition string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}

	last := path.Base(u.Path)
	if last != "." && last != "/" && strings.Contains(last, ".") {
		return last
	}
	return constants.DefaultAudioFilename
}
