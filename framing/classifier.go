package framing

import (
	"strings"
)

// DefaultMarker prefixes every line that carries a data payload.
const DefaultMarker = "DATA_START:"

// Classifier sorts completed lines into data frames and log lines.
type Classifier struct {
	marker string
}

// NewClassifier returns a Classifier matching marker as a case-sensitive prefix.
func NewClassifier(marker string) Classifier {
	return Classifier{marker: marker}
}

// Marker returns the configured marker.
func (c Classifier) Marker() string {
	return c.marker
}

// Classify trims line and checks for the marker before checking for emptiness,
// so a line that is exactly the marker yields a data frame with no payload.
func (c Classifier) Classify(line string) Frame {
	trimmed := strings.TrimSpace(line)
	if payload, ok := strings.CutPrefix(trimmed, c.marker); ok {
		return Frame{Kind: KindData, Text: payload}
	}
	if trimmed == "" {
		return Frame{Kind: KindNone}
	}
	return Frame{Kind: KindLog, Text: trimmed}
}
