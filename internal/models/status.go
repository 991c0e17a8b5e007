package models

import (
	"encoding/json"
	"fmt"
)

// MediaKind discriminates the Media union.
type MediaKind string

const (
	MediaKindText  MediaKind = "text"
	MediaKindPhoto MediaKind = "photo"
	MediaKindVideo MediaKind = "video"
	MediaKindMusic MediaKind = "music"
)

// MediaRef points at a blob the backend or a remote host serves.
type MediaRef struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Name        string `json:"name,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Media is the payload of a status. Implementations are TextMedia,
// PhotoMedia, VideoMedia and MusicMedia; nothing else satisfies it.
type Media interface {
	Kind() MediaKind
	isMedia()
}

type TextMedia struct {
	Text string
}

type PhotoMedia struct {
	Ref MediaRef
}

type VideoMedia struct {
	Ref MediaRef
}

type MusicMedia struct {
	Ref MediaRef
}

func (TextMedia) Kind() MediaKind  { return MediaKindText }
func (PhotoMedia) Kind() MediaKind { return MediaKindPhoto }
func (VideoMedia) Kind() MediaKind { return MediaKindVideo }
func (MusicMedia) Kind() MediaKind { return MediaKindMusic }

func (TextMedia) isMedia()  {}
func (PhotoMedia) isMedia() {}
func (VideoMedia) isMedia() {}
func (MusicMedia) isMedia() {}

// mediaEnvelope is the JSON shape of Media: {"kind": "...", "text": "..."} or {"kind": "...", "ref": {...}}.
type mediaEnvelope struct {
	Kind MediaKind `json:"kind"`
	Text string    `json:"text,omitempty"`
	Ref  *MediaRef `json:"ref,omitempty"`
}

// MarshalMedia encodes a Media value with its kind tag.
func MarshalMedia(m Media) ([]byte, error) {
	var env mediaEnvelope
	switch v := m.(type) {
	case TextMedia:
		env = mediaEnvelope{Kind: MediaKindText, Text: v.Text}
	case PhotoMedia:
		env = mediaEnvelope{Kind: MediaKindPhoto, Ref: &v.Ref}
	case VideoMedia:
		env = mediaEnvelope{Kind: MediaKindVideo, Ref: &v.Ref}
	case MusicMedia:
		env = mediaEnvelope{Kind: MediaKindMusic, Ref: &v.Ref}
	default:
		return nil, fmt.Errorf("unsupported media type %T", m)
	}
	return json.Marshal(env)
}

// UnmarshalMedia decodes a tagged Media value.
func UnmarshalMedia(data []byte) (Media, error) {
	var env mediaEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	if env.Kind == MediaKindText {
		return TextMedia{Text: env.Text}, nil
	}
	if env.Ref == nil {
		return nil, fmt.Errorf("media kind %q requires a ref", env.Kind)
	}
	switch env.Kind {
	case MediaKindPhoto:
		return PhotoMedia{Ref: *env.Ref}, nil
	case MediaKindVideo:
		return VideoMedia{Ref: *env.Ref}, nil
	case MediaKindMusic:
		return MusicMedia{Ref: *env.Ref}, nil
	default:
		return nil, fmt.Errorf("unknown media kind %q", env.Kind)
	}
}

// StatusItem is an ephemeral, author-scoped post. ID is unique only per author.
type StatusItem struct {
	Author     string
	ID         uint64
	Media      Media
	Caption    string
	Timestamp  int64
	AudioTrack *MediaRef
}

// Key is the global identity of a status item.
type StatusKey struct {
	Author string
	ID     uint64
}

func (s StatusItem) Key() StatusKey {
	return StatusKey{Author: CanonicalID(s.Author), ID: s.ID}
}

type statusItemJSON struct {
	Author     string          `json:"author"`
	ID         uint64          `json:"id"`
	Media      json.RawMessage `json:"media"`
	Caption    string          `json:"caption"`
	Timestamp  int64           `json:"timestamp"`
	AudioTrack *MediaRef       `json:"audio_track,omitempty"`
}

func (s StatusItem) MarshalJSON() ([]byte, error) {
	media, err := MarshalMedia(s.Media)
	if err != nil {
		return nil, err
	}
	return json.Marshal(statusItemJSON{
		Author:     s.Author,
		ID:         s.ID,
		Media:      media,
		Caption:    s.Caption,
		Timestamp:  s.Timestamp,
		AudioTrack: s.AudioTrack,
	})
}

func (s *StatusItem) UnmarshalJSON(data []byte) error {
	var raw statusItemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	media, err := UnmarshalMedia(raw.Media)
	if err != nil {
		return fmt.Errorf("status %s/%d: %w", raw.Author, raw.ID, err)
	}
	*s = StatusItem{
		Author:     raw.Author,
		ID:         raw.ID,
		Media:      media,
		Caption:    raw.Caption,
		Timestamp:  raw.Timestamp,
		AudioTrack: raw.AudioTrack,
	}
	return nil
}

// AuthorGroup is one author's statuses in feed order.
type AuthorGroup struct {
	Author string       `json:"author"`
	Items  []StatusItem `json:"items"`
}

// Feed is the aggregated status list. Err is set only when the contact list itself could not be fetched.
type Feed struct {
	Items []StatusItem `json:"items"`
	Err   error        `json:"-"`
}
