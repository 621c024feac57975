// Package logging provides file-based logging with rotation for codelensd.
// Logs are written as JSON to ~/.codelens/logs/engine.log and mirrored to
// stderr. By default the level is info; the --debug flag raises it to debug.
package logging
