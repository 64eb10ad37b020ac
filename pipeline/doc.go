// Package pipeline wires the worker's output stream to the broadcast hub.
//
// A Driver owns one stream: it reassembles chunks into lines, classifies each
// line, decodes data frames and hands the resulting events to a Publisher.
// Log lines and every per-line failure go to a diagnostic.Sink. Nothing that
// happens to a single line can stop the Driver.
//
//	d, err := pipeline.NewDriver(pipeline.DefaultConfig(), hub, sink)
//	go d.RunErrorStream(ctx, stderr)
//	err := d.Run(ctx, stdout) // returns at EOF; the Driver is then Closed
//
// A Driver moves from Idle to Streaming on the first chunk and to Closed when
// the stream ends. A fresh Driver is needed for every new stream, so a
// restarted worker never inherits a partial line from its predecessor.
package pipeline
