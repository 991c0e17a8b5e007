package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apperrors "jerosync/internal/errors"
	"jerosync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type countingInvalidator struct {
	calls int
}

func (c *countingInvalidator) Invalidate() { c.calls++ }

func TestStatusComposer_Create(t *testing.T) {
	ref := models.MediaRef{URL: "https://cdn/p.jpg"}
	audio := &models.MediaRef{URL: "https://cdn/s.mp3", ContentType: "audio/mpeg"}

	gw := &mockGateway{}
	gw.On("CreateStatus", mock.Anything, models.PhotoMedia{Ref: ref}, "look", audio).Return(nil)
	feed := &countingInvalidator{}

	c := NewStatusComposer(gw, feed, "me", nil, newTestLogger())
	require.NoError(t, c.Create(context.Background(), models.PhotoMedia{Ref: ref}, "look", audio))

	assert.Equal(t, 1, feed.calls)
	gw.AssertExpectations(t)
}

func TestStatusComposer_CreateValidation(t *testing.T) {
	tests := []struct {
		name    string
		media   models.Media
		caption string
	}{
		{"blank text", models.TextMedia{Text: "  "}, ""},
		{"photo without ref", models.PhotoMedia{}, ""},
		{"video without ref", models.VideoMedia{}, ""},
		{"music without ref", models.MusicMedia{}, ""},
		{"no media", nil, ""},
		{"caption too long", models.TextMedia{Text: "ok"}, strings.Repeat("x", 161)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{}
			feed := &countingInvalidator{}
			c := NewStatusComposer(gw, feed, "me", nil, newTestLogger())

			err := c.Create(context.Background(), tt.media, tt.caption, nil)

			assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
			assert.Zero(t, feed.calls)
			gw.AssertNotCalled(t, "CreateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestStatusComposer_CreateSurfacesGatewayError(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CreateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.NewGatewayError("create_status", 422, assert.AnError))
	feed := &countingInvalidator{}

	c := NewStatusComposer(gw, feed, "me", nil, newTestLogger())
	err := c.Create(context.Background(), models.TextMedia{Text: "hello"}, "", nil)

	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRejected))
	assert.Zero(t, feed.calls)
}

func TestStatusComposer_Delete(t *testing.T) {
	items := navItems(3)
	for i := range items {
		items[i].Author = "me"
	}

	t.Run("author deletes and viewer adjusts", func(t *testing.T) {
		gw := &mockGateway{}
		gw.On("DeleteStatus", mock.Anything, "me", uint64(3)).Return(nil)
		feed := &countingInvalidator{}
		nav, err := NewStatusNavigator(items, 2, nil, newTestLogger())
		require.NoError(t, err)

		c := NewStatusComposer(gw, feed, "Me", nil, newTestLogger())
		require.NoError(t, c.Delete(context.Background(), nav, nav.Current()))

		assert.Equal(t, 2, nav.Len())
		assert.Equal(t, 1, nav.Index())
		assert.Equal(t, 1, feed.calls)
	})

	t.Run("non-author is refused", func(t *testing.T) {
		gw := &mockGateway{}
		nav, err := NewStatusNavigator(items, 0, nil, newTestLogger())
		require.NoError(t, err)

		c := NewStatusComposer(gw, nil, "someone-else", nil, newTestLogger())
		err = c.Delete(context.Background(), nav, nav.Current())

		assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnauthorized))
		assert.Equal(t, 3, nav.Len())
		gw.AssertNotCalled(t, "DeleteStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failure leaves viewer unchanged", func(t *testing.T) {
		gw := &mockGateway{}
		gw.On("DeleteStatus", mock.Anything, "me", uint64(1)).Return(apperrors.NewUnavailableError("delete_status", assert.AnError))
		nav, err := NewStatusNavigator(items, 0, nil, newTestLogger())
		require.NoError(t, err)

		c := NewStatusComposer(gw, nil, "me", nil, newTestLogger())
		err = c.Delete(context.Background(), nav, nav.Current())

		assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnavailable))
		assert.Equal(t, 3, nav.Len())
		assert.Equal(t, 0, nav.Index())
		assert.False(t, nav.Closed())
	})
}

func audioServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestStatusComposer_ResolveAudioURL(t *testing.T) {
	c := NewStatusComposer(&mockGateway{}, nil, "me", nil, newTestLogger())

	t.Run("content disposition filename", func(t *testing.T) {
		server := audioServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Header().Set("Content-Disposition", `attachment; filename="summer.mp3"`)
			_, _ = w.Write([]byte("ID3data"))
		})

		ref, err := c.ResolveAudioURL(context.Background(), server.URL+"/download")

		require.NoError(t, err)
		assert.Equal(t, "summer.mp3", ref.Name)
		assert.Equal(t, "audio/mpeg", ref.ContentType)
		assert.Equal(t, int64(7), ref.Size)
	})

	t.Run("filename from path", func(t *testing.T) {
		server := audioServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "audio/ogg")
			_, _ = w.Write([]byte("OggS"))
		})

		ref, err := c.ResolveAudioURL(context.Background(), server.URL+"/tracks/night%20drive.ogg")

		require.NoError(t, err)
		assert.Equal(t, "night drive.ogg", ref.Name)
	})

	t.Run("fallback filename", func(t *testing.T) {
		server := audioServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "audio/wav")
			_, _ = w.Write([]byte("RIFF"))
		})

		ref, err := c.ResolveAudioURL(context.Background(), server.URL+"/stream")

		require.NoError(t, err)
		assert.Equal(t, "audio-track.mp3", ref.Name)
	})
}

func TestStatusComposer_ResolveAudioURLRejections(t *testing.T) {
	c := NewStatusComposer(&mockGateway{}, nil, "me", nil, newTestLogger())

	tests := []struct {
		name        string
		handler     http.HandlerFunc
		userMessage string
	}{
		{
			name: "not audio",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html>"))
			},
			userMessage: "Invalid file type",
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			userMessage: "not found (404)",
		},
		{
			name: "forbidden",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			userMessage: "Access forbidden (403)",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			userMessage: "HTTP 502",
		},
		{
			name: "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "audio/mpeg")
			},
			userMessage: "Audio file is empty",
		},
		{
			name: "declared too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "audio/mpeg")
				w.Header().Set("Content-Length", "1073741825")
				w.WriteHeader(http.StatusOK)
			},
			userMessage: "too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := audioServer(t, tt.handler)

			_, err := c.ResolveAudioURL(context.Background(), server.URL+"/a.mp3")

			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
			assert.Contains(t, apperrors.GetUserMessage(err), tt.userMessage)
		})
	}
}

func TestStatusComposer_ResolveAudioURLSchemes(t *testing.T) {
	c := NewStatusComposer(&mockGateway{}, nil, "me", nil, newTestLogger())

	for _, raw := range []string{"ftp://example.com/a.mp3", "file:///etc/passwd", "not a url", ""} {
		_, err := c.ResolveAudioURL(context.Background(), raw)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed), raw)
	}
}
