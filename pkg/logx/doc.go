// Package logx is promptclock's structured logging on top of zerolog.
//
// Loggers derived from a Service follow its sinks across config reloads.
// Console output is human readable; the file sink is JSON.
package logx
