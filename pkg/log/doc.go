/*
Package log provides structured logging for Captain using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("control")                 │          │
	│  │  - WithSailor("bob")                        │          │
	│  │  - WithChoreID(100000042)                   │          │
	│  │  - WithOwner("1000")                        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  JSON:    {"level":"info","component":      │          │
	│  │            "control","chore_id":100000042,  │          │
	│  │            "message":"chore assigned"}      │          │
	│  │  Console: 2025-01-02T10:30:00Z INF          │          │
	│  │            chore assigned component=...     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	log.Info("captain starting")

	ctl := log.WithComponent("control")
	ctl.Info().Int64("chore_id", 100000042).Str("sailor", "bob").Msg("chore assigned")

	log.Logger.Error().Err(err).Str("sailor", "bob").Msg("heartbeat decode failed")

# Integration points

  - internal/control: logs every sweep and match decision
  - internal/httpapi: logs request method, route, status, duration
  - internal/sailorclient: logs RPC outcomes and timeouts
  - internal/store: logs load/parse failures (never propagated as errors)
*/
package log
