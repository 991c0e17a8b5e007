package service

import (
	"sync"

	"jerosync/internal/constants"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/models"

	"github.com/sirupsen/logrus"
)

// AudioPlayer plays a status's background track. Stop pauses and rewinds.
type AudioPlayer interface {
	Play(ref models.MediaRef) error
	Stop()
}

type noopAudioPlayer struct{}

func (noopAudioPlayer) Play(models.MediaRef) error { return nil }
func (noopAudioPlayer) Stop()                      {}

// Keys the viewer reacts to
const (
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
	KeyEscape     = "Escape"
)

// StatusNavigator tracks the viewer's position in a list of statuses and
// keeps exactly the current item's audio playing.
type StatusNavigator struct {
	audio  AudioPlayer
	logger *logrus.Logger

	mu      sync.Mutex
	items   []models.StatusItem
	index   int
	closed  bool
	onClose []func()
}

// NewStatusNavigator opens a viewer at start and plays that item's audio
func NewStatusNavigator(items []models.StatusItem, start int, audio AudioPlayer, logger *logrus.Logger) (*StatusNavigator, error) {
	if len(items) == 0 {
		return nil, apperrors.NewValidationError("items", "", "no statuses to view")
	}
	if start < 0 || start >= len(items) {
		return nil, apperrors.NewValidationError("start", "", "start index out of range")
	}
	if audio == nil {
		audio = noopAudioPlayer{}
	}

	n := &StatusNavigator{
		audio:  audio,
		logger: logger,
		items:  append([]models.StatusItem(nil), items...),
		index:  start,
	}

	n.mu.Lock()
	n.syncAudioLocked()
	n.mu.Unlock()
	return n, nil
}

// NewNavigatorForGroup opens a viewer over one author's statuses
func NewNavigatorForGroup(group models.AuthorGroup, start int, audio AudioPlayer, logger *logrus.Logger) (*StatusNavigator, error) {
	return NewStatusNavigator(group.Items, start, audio, logger)
}

// OnClose registers a callback fired once when the viewer closes
func (n *StatusNavigator) OnClose(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onClose = append(n.onClose, fn)
}

// Current returns the item on screen, or the zero item once everything was deleted
func (n *StatusNavigator) Current() models.StatusItem {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.items) == 0 {
		return models.StatusItem{}
	}
	return n.items[n.index]
}

// Index is the position of the current item
func (n *StatusNavigator) Index() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index
}

// Len is the number of items in the viewer
func (n *StatusNavigator) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

// Closed reports whether the viewer has been dismissed
func (n *StatusNavigator) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Next advances, closing the viewer after the last item
func (n *StatusNavigator) Next() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if n.index >= len(n.items)-1 {
		n.closeLocked()
		return
	}
	n.index++
	n.syncAudioLocked()
	n.mu.Unlock()
}

// Previous steps back; it does nothing at the first item
func (n *StatusNavigator) Previous() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.index == 0 {
		return
	}
	n.index--
	n.syncAudioLocked()
}

// JumpTo moves to i, ignoring out-of-range and unchanged indexes
func (n *StatusNavigator) JumpTo(i int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || i < 0 || i >= len(n.items) || i == n.index {
		return
	}
	n.index = i
	n.syncAudioLocked()
}

// Close stops audio and closes the viewer
func (n *StatusNavigator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closeLocked()
}

// OnDeleted removes the current item after it was deleted. The viewer closes
// when nothing is left, keeps its index when later items slide into place,
// and otherwise steps back one.
func (n *StatusNavigator) OnDeleted() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	if len(n.items) == 1 {
		n.items = nil
		n.index = 0
		n.closeLocked()
		return
	}

	wasLast := n.index == len(n.items)-1
	n.items = append(n.items[:n.index:n.index], n.items[n.index+1:]...)
	if wasLast {
		n.index--
	}
	n.syncAudioLocked()
	n.mu.Unlock()
}

// HandleTap maps a tap at x on a surface of the given width: left third goes
// back, right third goes forward, the middle does nothing.
func (n *StatusNavigator) HandleTap(x, width float64) {
	switch {
	case x < width/3:
		n.Previous()
	case x > 2*width/3:
		n.Next()
	}
}

// HandleKey maps keyboard navigation
func (n *StatusNavigator) HandleKey(key string) {
	switch key {
	case KeyArrowLeft:
		n.Previous()
	case KeyArrowRight:
		n.Next()
	case KeyEscape:
		n.Close()
	}
}

// HandleSwipe maps a horizontal swipe. Movements within the threshold are ignored.
func (n *StatusNavigator) HandleSwipe(startX, endX float64) {
	delta := startX - endX
	switch {
	case delta > constants.SwipeThreshold:
		n.Next()
	case delta < -constants.SwipeThreshold:
		n.Previous()
	}
}

// closeLocked marks the viewer closed, stops audio and releases n.mu before
// running callbacks.
func (n *StatusNavigator) closeLocked() {
	n.closed = true
	n.audio.Stop()
	callbacks := n.onClose
	n.onClose = nil
	n.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func (n *StatusNavigator) syncAudioLocked() {
	n.audio.Stop()

	track := n.items[n.index].AudioTrack
	if track == nil {
		return
	}
	if err := n.audio.Play(*track); err != nil {
		n.logger.WithError(err).WithField(LogFieldURL, track.URL).Debug("Status audio playback rejected")
	}
}

// MediaView is what a viewer needs to render one status
type MediaView struct {
	Kind models.MediaKind `json:"kind"`
	Text string           `json:"text,omitempty"`
	URL  string           `json:"url,omitempty"`
	// Autoplay is set for kinds that start on their own (video, music)
	Autoplay bool `json:"autoplay"`
}

// Describe maps a status's media to its render form
func Describe(item models.StatusItem) MediaView {
	switch m := item.Media.(type) {
	case models.TextMedia:
		return MediaView{Kind: models.MediaKindText, Text: m.Text}
	case models.PhotoMedia:
		return MediaView{Kind: models.MediaKindPhoto, URL: m.Ref.URL}
	case models.VideoMedia:
		return MediaView{Kind: models.MediaKindVideo, URL: m.Ref.URL, Autoplay: true}
	case models.MusicMedia:
		return MediaView{Kind: models.MediaKindMusic, URL: m.Ref.URL, Autoplay: true}
	default:
		return MediaView{}
	}
}
