// Package log provides deferd's structured logging facade.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// simple Field type for structured context. Internally it is backed by Go's
// standard library slog via a custom handler that preserves the
// formatter/output pipeline, keeping consistent output across the codebase.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("scheduler"))
//	l.Info("height advanced", log.Uint64("height", h))
//
// # Interop
//
// To integrate with libraries expecting *log.Logger (Pebble's internal
// logger, net/http error logs), use RedirectStdLog.
package log
