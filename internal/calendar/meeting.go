package calendar

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"academycal/internal/model"
)

// MeetingLinker produces a meeting link for an event that has none.
type MeetingLinker interface {
	MeetingLink(ctx context.Context, ev *model.Event) (string, error)
}

// ZoomPlaceholder returns a syntactically valid but unprovisioned Zoom URL.
// No meeting is created with the provider.
type ZoomPlaceholder struct {
	BaseURL string
}

const defaultZoomBaseURL = "https://zoom.us/j/"

func (z ZoomPlaceholder) MeetingLink(_ context.Context, _ *model.Event) (string, error) {
	base := z.BaseURL
	if base == "" {
		base = defaultZoomBaseURL
	}
	return base + meetingNumber(), nil
}

// meetingNumber derives an 11-digit number from a random UUID.
func meetingNumber() string {
	id := uuid.New()
	var b strings.Builder
	for _, c := range id {
		b.WriteByte('0' + c%10)
		if b.Len() == 11 {
			break
		}
	}
	return b.String()
}
