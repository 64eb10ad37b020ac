// Package parser decodes data frame payloads into events.
//
// A Decoder turns the text that followed the marker into an Event. The only
// wire format is JSON:
//
//	dec := parser.NewJSONDecoder()
//	ev, err := dec.Decode(`{"score": 0.93, "fps": 24}`)
//	if err != nil {
//		var de *parser.DecodeError
//		errors.As(err, &de) // de.Payload holds the offending text
//	}
//
// Event.Raw keeps the payload bytes exactly as received so transports can
// forward them without re-encoding; Event.Value holds the decoded structure
// for consumers that inspect it, such as the schema validator.
//
// Decode failures are always *DecodeError, classified as invalid input. They
// never stop a pipeline.
package parser
