/*
Package log provides structured logging for Drover built on zerolog.

Call Init once at process startup, then derive component-scoped child
loggers:

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("control")
	logger.Info().Str("addr", addr).Msg("agent listener started")

Daemons default to console output on stderr; pass JSONOutput for
machine-readable logs.
*/
package log
