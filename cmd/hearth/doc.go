// Package main hosts the Hearth CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the capture agent and processing daemon
// in the foreground, and gives operators direct access to the local capture
// outbox, the server job queue, configuration scaffolding, and preflight
// checks. It centralizes configuration resolution so subcommands can focus
// on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
