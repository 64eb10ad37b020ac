// Package testutil provides helpers shared by framerelay tests.
//
//   - SplitChunks and RandomChunks cut a byte stream at chosen or random
//     points to exercise chunk-boundary handling.
//   - RecordingSink records diagnostic calls in order.
//   - CollectingSubscriber records broadcast deliveries.
//   - Trace records publishes and diagnostics into one ordered list, for
//     asserting the interleaving a pipeline produced.
//   - PublishRecorder captures what a component publishes to NATS.
//
// Nothing here talks to the network. NATS-backed tests use the container
// helpers in natsclient behind the integration build tag.
package testutil
