// Package log provides structured protocol capture for the co-simulation bus.
//
// It is separate from operational logging (slog): a capture is a complete,
// machine-readable trace of every frame and packet exchanged with every
// device, plus registry and lifecycle transitions, suitable for replaying a
// co-simulation session offline.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For regression runs: write to a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/tmp/session.clog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(console, file)
//
// # Layers
//
//   - Transport: raw frame bytes (FrameEvent)
//   - Wire: decoded packets (PacketEvent)
//   - Bus: device registration and lifecycle (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Capture files are a concatenated stream of CBOR-encoded events. The
// cosim-log tool views, filters and exports them.
package log
