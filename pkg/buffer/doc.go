// Package buffer provides Queue, a bounded generic FIFO.
//
// Queues back the per-subscriber delivery queues of the broadcast hub and the
// in-memory ring of recent diagnostics. At capacity a queue either evicts its
// oldest item (DropOldest) or refuses the new one with ErrFull (Reject).
//
// A consumer goroutine waits on Ready and pops until empty:
//
//	q := buffer.New[parser.Event](256, buffer.WithPolicy[parser.Event](buffer.Reject))
//	for {
//		select {
//		case <-ctx.Done():
//			return
//		case <-q.Ready():
//			for ev, ok := q.Pop(); ok; ev, ok = q.Pop() {
//				deliver(ev)
//			}
//		}
//	}
package buffer
