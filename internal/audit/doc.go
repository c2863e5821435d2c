// Package audit provides the audit event model, sinks, and the async
// dispatcher that decouples authentication decisions from sink latency.
//
// # Sinks
//
//   - [NoOpSink] discards events.
//   - [ChannelSink] forwards to a buffered channel (tests, fan-in).
//   - [JSONWriterSink] writes JSON lines to any io.Writer.
//   - [FileSink] writes JSON lines through zap to a lumberjack-rotated file.
//   - [FanoutSink] writes to several sinks.
//
// # What this package must NOT do
//
//   - Block Emit on a slow or failing sink when DropIfFull is set.
//   - Mutate or delete events after they are written.
package audit
