package ports

import (
	"context"

	"github.com/aescanero/teamflow/internal/domain"
)

// TeamHandler is a pluggable unit of domain logic. The core never inspects
// its internals.
type TeamHandler interface {
	Process(ctx context.Context, input domain.Payload) (domain.Payload, error)
	TeamName() string
}

// CapabilityProber is implemented by handlers that can tell whether they
// accept an input.
type CapabilityProber interface {
	CanHandle(ctx context.Context, input domain.Payload) (bool, error)
}

// Classifier turns free text into a structured classification. It returns
// domain.ErrUnparsableClassification when the reply has no usable shape.
type Classifier interface {
	Classify(ctx context.Context, content string) (*domain.Classification, error)
}

// TranscriptProbe checks whether a meeting recording has been transcribed.
type TranscriptProbe interface {
	FetchTranscript(ctx context.Context, meetingID string) (string, bool, error)
}
