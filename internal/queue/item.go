package queue

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/readaloud/internal/segment"
)

// Status is the state of a queue item or one of its segments.
type Status string

const (
	StatusPending    Status = "pending"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
	StatusPlaying    Status = "playing"
	StatusPaused     Status = "paused"
	StatusError      Status = "error"
	StatusPartial    Status = "partial"
	StatusCancelled  Status = "cancelled"
	StatusConverting Status = "converting"
)

// Segment is a text segment together with its conversion state. Its audio
// lives in the blob store under ID.
type Segment struct {
	segment.Segment

	ID     string `json:"id"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Size   int    `json:"size,omitempty"`
}

// HasAudio reports whether the segment's audio has been converted.
func (s Segment) HasAudio() bool {
	switch s.Status {
	case StatusReady, StatusPlaying, StatusPaused:
		return true
	}
	return false
}

// Item is one entry in the queue.
type Item struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	Voice          string    `json:"voice"`
	Source         string    `json:"source,omitempty"`
	Segments       []Segment `json:"segments"`
	Status         Status    `json:"status"`
	Error          string    `json:"error,omitempty"`
	CurrentSegment int       `json:"currentSegment"`
	TotalSegments  int       `json:"totalSegments"`
	CreatedAt      time.Time `json:"createdAt"`

	// resting is the status to restore when playback leaves the item.
	resting Status
}

// SegmentID is the blob key for segment index of item.
func SegmentID(itemID string, index int) string {
	return fmt.Sprintf("%s-%d", itemID, index)
}

func newItem(id, text, voice, source string, segs []segment.Segment, now time.Time) *Item {
	it := &Item{
		ID:            id,
		Text:          text,
		Voice:         voice,
		Source:        source,
		Status:        StatusConverting,
		TotalSegments: len(segs),
		CreatedAt:     now,
	}
	for i, s := range segs {
		it.Segments = append(it.Segments, Segment{
			Segment: s,
			ID:      SegmentID(id, i),
			Status:  StatusPending,
		})
	}
	return it
}

func (it *Item) clone() Item {
	c := *it
	c.Segments = append([]Segment(nil), it.Segments...)
	return c
}

// Ready is the number of converted segments.
func (it Item) Ready() int {
	n := 0
	for _, s := range it.Segments {
		if s.HasAudio() {
			n++
		}
	}
	return n
}

// Size is the converted audio size in bytes as reported at conversion time.
func (it Item) Size() int {
	n := 0
	for _, s := range it.Segments {
		if s.HasAudio() {
			n += s.Size
		}
	}
	return n
}

// Title is a short label for the item.
func (it Item) Title() string {
	if it.Source != "" {
		return it.Source
	}
	if len(it.Segments) > 0 {
		return it.Segments[0].Text
	}
	return it.ID
}

// settledStatus is the status of an item that is neither converting nor
// under transport control.
func (it *Item) settledStatus() Status {
	var ready, failed, cancelled int
	for _, s := range it.Segments {
		switch {
		case s.HasAudio():
			ready++
		case s.Status == StatusError:
			failed++
		case s.Status == StatusCancelled:
			cancelled++
		}
	}

	switch {
	case len(it.Segments) > 0 && ready == len(it.Segments):
		return StatusReady
	case ready > 0:
		return StatusPartial
	case cancelled > 0:
		return StatusCancelled
	case failed > 0:
		return StatusError
	default:
		return StatusPending
	}
}

// progressStatus is the status while conversion is running.
func (it *Item) progressStatus() Status {
	ready := it.Ready()
	switch {
	case ready == len(it.Segments):
		return StatusReady
	case ready > 0:
		return StatusPartial
	default:
		return StatusConverting
	}
}

// inTransport reports whether playback owns the item status.
func (it *Item) inTransport() bool {
	return it.Status == StatusPlaying || it.Status == StatusPaused
}

// firstError returns the first segment error message.
func (it *Item) firstError() string {
	for _, s := range it.Segments {
		if s.Status == StatusError && s.Error != "" {
			return s.Error
		}
	}
	return ""
}
