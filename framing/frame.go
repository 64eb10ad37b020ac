package framing

// Kind identifies what a completed line turned out to be.
type Kind int

const (
	// KindNone marks a line that was empty after trimming and carries nothing.
	KindNone Kind = iota
	// KindData marks a line that started with the marker.
	KindData
	// KindLog marks any other non-empty line.
	KindLog
)

// String returns the label used in logs and the lines_total metric.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindLog:
		return "log"
	default:
		return "empty"
	}
}

// Frame is one classified line. For KindData, Text is the payload after the
// marker, exactly as received. For KindLog, Text is the trimmed line.
type Frame struct {
	Kind Kind
	Text string
}
