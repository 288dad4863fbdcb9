// Package logging provides structured logging for signalbox.
//
// It wraps the standard log/slog package so every component logs with the
// same handler, level filter and default fields (service, version).
//
// Configuration comes from the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("poll").Info("fetch complete", "resource", "trains")
//
// Never log MQTT credentials.
package logging
