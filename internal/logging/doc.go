// Package logging provides file-based logging with rotation for indexd.
// The daemon writes structured JSON logs to ~/.indexd/logs/ for
// troubleshooting; interactive commands log human-readably to stderr.
package logging
