package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"synccity/internal/domain"
)

const DefaultDateLayout = "2006-01-02"

// Bootstrapper opens the conversation thread for a new conflict.
type Bootstrapper struct {
	DateLayout string
	Location   *time.Location
}

// Bootstrap creates the conversation between both departments and seeds it
// with the system summary. It returns the conversation id.
func (b Bootstrapper) Bootstrap(ctx context.Context, sink Sink, c domain.Conflict, subject, candidate domain.Project) (string, error) {
	convID, err := sink.CreateConflictConversation(ctx, domain.ConversationInput{
		Project1DepartmentID: subject.DepartmentID,
		Project2DepartmentID: candidate.DepartmentID,
		ConflictRecordID:     c.ID,
	})
	if err != nil {
		return "", errors.Wrap(err, "create conflict conversation")
	}
	if err := sink.PostSystemMessage(ctx, convID, subject.DepartmentID, b.DetectedMessage(c.ConflictDetails)); err != nil {
		return "", errors.Wrap(err, "post system message")
	}
	return convID, nil
}

// Rebootstrap reactivates the conversation of a reopened conflict, creating
// one if the conflict never had a thread.
func (b Bootstrapper) Rebootstrap(ctx context.Context, sink Sink, c domain.Conflict, details domain.ConflictDetails, subject, candidate domain.Project) (string, error) {
	convID, err := sink.ReactivateConversation(ctx, c.ID)
	if err != nil {
		return "", errors.Wrap(err, "reactivate conversation")
	}
	if convID == "" {
		c.ConflictDetails = details
		return b.Bootstrap(ctx, sink, c, subject, candidate)
	}
	if err := sink.PostSystemMessage(ctx, convID, subject.DepartmentID, b.RedetectedMessage(details)); err != nil {
		return "", errors.Wrap(err, "post system message")
	}
	return convID, nil
}

func (b Bootstrapper) DetectedMessage(d domain.ConflictDetails) string {
	return fmt.Sprintf("Project conflict detected between departments:\n\n%s\n\nPlease coordinate to resolve this conflict.", b.summary(d))
}

func (b Bootstrapper) RedetectedMessage(d domain.ConflictDetails) string {
	return fmt.Sprintf("Project conflict re-detected after a project change:\n\n%s\n\nThe previous resolution no longer applies. Please coordinate again.", b.summary(d))
}

func (b Bootstrapper) summary(d domain.ConflictDetails) string {
	return fmt.Sprintf("- Spatial overlap: %d%%\n- Time period: %s to %s",
		d.SpatialOverlap, b.date(d.TemporalOverlap.StartDate), b.date(d.TemporalOverlap.EndDate))
}

func (b Bootstrapper) date(t time.Time) string {
	layout := b.DateLayout
	if layout == "" {
		layout = DefaultDateLayout
	}
	loc := b.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(layout)
}
