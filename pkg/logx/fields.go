package logx

import (
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Field adds one or more keys to a log event. Later fields win on key clashes.
type Field func(e *zerolog.Event)

func String(k, v string) Field                 { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field                { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field            { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Uint64(k string, v uint64) Field          { return func(e *zerolog.Event) { e.Uint64(k, v) } }
func Bool(k string, v bool) Field              { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }
func Time(k string, v time.Time) Field         { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field                { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Comp tags the component that owns a logger.
func Comp(name string) Field { return String("comp", name) }

// Loop names a supervised goroutine.
func Loop(name string) Field { return String("loop", name) }

// Trigger identifies a schedule entry by its HH:MM slot and workflow file.
func Trigger(hhmm, workflow string) Field {
	return func(e *zerolog.Event) { e.Str("time", hhmm).Str("workflow", workflow) }
}

func Workflow(name string) Field { return String("workflow", name) }

// Source is a rotation text source ID.
func Source(id string) Field { return String("source", id) }

// Task identifies an executor task. An empty id is omitted.
func Task(name, id string) Field {
	return func(e *zerolog.Event) {
		e.Str("task", name)
		if id != "" {
			e.Str("id", id)
		}
	}
}

// Stack captures the calling goroutine's stack now, for panic reports.
func Stack() Field {
	s := string(debug.Stack())
	return String("stack", s)
}
