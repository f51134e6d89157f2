package main

import (
	"fmt"

	"github.com/goliatone/go-logger/glog"
)

var levels = map[string]int{
	"trace": 0,
	"debug": 1,
	"info":  2,
	"warn":  3,
	"error": 4,
}

// printfLogger adapts a structured glog.Logger to the printf style
// logger the hub packages take. Messages below min are dropped.
type printfLogger struct {
	lgr glog.Logger
	min int
}

func newPrintfLogger(lgr glog.Logger, level string) *printfLogger {
	min, ok := levels[level]
	if !ok {
		min = levels["info"]
	}
	return &printfLogger{lgr: lgr, min: min}
}

func (l *printfLogger) Debug(format string, args ...any) {
	if l.min <= levels["debug"] {
		l.lgr.Debug(fmt.Sprintf(format, args...))
	}
}

func (l *printfLogger) Info(format string, args ...any) {
	if l.min <= levels["info"] {
		l.lgr.Info(fmt.Sprintf(format, args...))
	}
}

func (l *printfLogger) Error(format string, args ...any) {
	l.lgr.Error(fmt.Sprintf(format, args...))
}
