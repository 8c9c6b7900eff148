// Package log provides an opiniated logging facility with only 4 log levels.
package log

import (
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents a log level
type Level uint

const (
	Lsilent Level = 0
	Lerror  Level = 1
	Lwarn   Level = 2
	Linfo   Level = 3
	Ldebug  Level = 4
)

// String returns a string representing the log level.
func (level Level) String() string {
	names := []string{
		"SILENT",
		"ERROR",
		"WARN",
		"INFO",
		"DEBUG",
	}

	if level > Ldebug {
		return `¯\_(ツ)_/¯`
	}

	return names[level]
}

var components = []string{}
var componentLock = sync.Mutex{}

func registerComponent(component string) {
	if len(component) == 0 {
		return
	}

	componentLock.Lock()
	defer componentLock.Unlock()

	for _, c := range components {
		if c == component {
			return
		}
	}

	components = append(components, component)
}

// ListComponents returns the names of all components that acquired a logger.
func ListComponents() []string {
	componentLock.Lock()
	defer componentLock.Unlock()

	return append([]string{}, components...)
}

type Fields map[string]interface{}

// Logger is an interface that provides means for writing log messages.
//
// There are 4 log levels available (debug, info, warn, error) with increasing
// severity. A message will be written to an output if the log level of the
// message has the same or a higher severity than the output. Otherwise it
// will be discarded.
//
// The component is a string that represents who wrote the message.
type Logger interface {
	// WithOutput sets the output of the Logger. The messages are written to
	// the provided writer.
	WithOutput(w Writer) Logger

	// WithComponent returns a new Logger with the given component. The
	// component may be printed along the message, depending on the writer.
	WithComponent(component string) Logger

	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger

	WithError(err error) Logger

	Log(format string, args ...interface{})

	// Debug sets the debug log level for the next message.
	Debug() Logger

	// Info sets the info log level for the next message.
	Info() Logger

	// Warn sets the warn log level for the next message.
	Warn() Logger

	// Error sets the error log level for the next message.
	Error() Logger

	Close()
}

// logger is an implementation of the Logger interface.
type logger struct {
	output    Writer
	component string
}

// New returns an implementation of the Logger interface.
func New(component string) Logger {
	registerComponent(component)

	return &logger{
		component: component,
	}
}

func (l *logger) Close() {
	if l.output != nil {
		l.output.Close()
	}
}

func (l *logger) clone() *logger {
	return &logger{
		output:    l.output,
		component: l.component,
	}
}

func (l *logger) WithOutput(w Writer) Logger {
	clone := l.clone()
	clone.output = w

	return clone
}

func (l *logger) WithComponent(component string) Logger {
	clone := l.clone()
	clone.component = component

	registerComponent(component)

	return clone
}

func (l *logger) WithField(key string, value interface{}) Logger {
	return newEvent(l).WithField(key, value)
}

func (l *logger) WithFields(f Fields) Logger {
	return newEvent(l).WithFields(f)
}

func (l *logger) WithError(err error) Logger {
	return newEvent(l).WithError(err)
}

func (l *logger) Log(format string, args ...interface{}) {
	newEvent(l).Log(format, args...)
}

func (l *logger) Debug() Logger {
	return newEvent(l).Debug()
}

func (l *logger) Info() Logger {
	return newEvent(l).Info()
}

func (l *logger) Warn() Logger {
	return newEvent(l).Warn()
}

func (l *logger) Error() Logger {
	return newEvent(l).Error()
}

// Event is one log message together with the position in the code it has
// been emitted from.
type Event struct {
	logger *logger

	Time      time.Time
	Level     Level
	Component string
	File      string
	Line      int
	Function  string
	Message   string

	Data Fields
}

func newEvent(l *logger) Logger {
	return &Event{
		logger:    l,
		Component: l.component,
		Data:      Fields{},
	}
}

func (e *Event) clone() *Event {
	return &Event{
		logger:    e.logger,
		Time:      e.Time,
		Level:     e.Level,
		Component: e.Component,
		File:      e.File,
		Line:      e.Line,
		Function:  e.Function,
		Message:   e.Message,
		Data:      maps.Clone(e.Data),
	}
}

// Caller returns the position the event has been logged from as "file:line".
func (e *Event) Caller() string {
	if len(e.File) == 0 {
		return ""
	}

	return fmt.Sprintf("%s:%d", e.File, e.Line)
}

func (e *Event) Close() {
	e.logger.Close()
}

func (e *Event) WithOutput(w Writer) Logger {
	return e.logger.WithOutput(w)
}

func (e *Event) WithComponent(component string) Logger {
	clone := e.clone()
	clone.Component = component

	registerComponent(component)

	return clone
}

func (e *Event) WithField(key string, value interface{}) Logger {
	return e.WithFields(Fields{
		key: value,
	})
}

func (e *Event) WithFields(f Fields) Logger {
	clone := e.clone()

	data := make(Fields, len(clone.Data)+len(f))
	maps.Copy(data, clone.Data)
	maps.Copy(data, f)

	clone.Data = data

	return clone
}

func (e *Event) WithError(err error) Logger {
	if err == nil {
		return e
	}

	return e.WithFields(Fields{
		"error": err,
	})
}

func (e *Event) Debug() Logger {
	clone := e.clone()
	clone.Level = Ldebug

	return clone
}

func (e *Event) Info() Logger {
	clone := e.clone()
	clone.Level = Linfo

	return clone
}

func (e *Event) Warn() Logger {
	clone := e.clone()
	clone.Level = Lwarn

	return clone
}

func (e *Event) Error() Logger {
	clone := e.clone()
	clone.Level = Lerror

	return clone
}

func (e *Event) Log(format string, args ...interface{}) {
	if e.logger.output == nil {
		return
	}

	n := e.clone()

	n.Time = time.Now()

	if pc, file, line, ok := runtime.Caller(1); ok {
		if i := strings.LastIndexByte(file, '/'); i >= 0 {
			if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
				file = file[j+1:]
			}
		}

		n.File = file
		n.Line = line

		if fn := runtime.FuncForPC(pc); fn != nil {
			name := fn.Name()
			if i := strings.LastIndexByte(name, '.'); i >= 0 {
				name = name[i+1:]
			}
			n.Function = name
		}
	}

	if n.Level == Lsilent {
		n.Level = Ldebug
	}

	if len(format) != 0 {
		if len(args) == 0 {
			n.Message = format
		} else {
			n.Message = fmt.Sprintf(format, args...)
		}
	}

	e.logger.output.Write(n)
}
