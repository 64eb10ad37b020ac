// Package framing turns the worker's raw output stream into frames.
//
// A Reassembler owns the pending partial line of one stream and yields
// completed lines as chunks arrive, however the chunks happen to be split.
// A Classifier then decides for each line whether it carries a data payload
// (it starts with the marker) or is a diagnostic log line.
//
//	r := framing.NewReassembler(framing.DefaultTerminator)
//	c := framing.NewClassifier(framing.DefaultMarker)
//	for _, line := range r.Feed(chunk) {
//		switch f := c.Classify(line); f.Kind {
//		case framing.KindData:
//			decode(f.Text)
//		case framing.KindLog:
//			log(f.Text)
//		}
//	}
package framing
