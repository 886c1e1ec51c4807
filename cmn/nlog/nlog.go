// Package nlog is the DES logger: leveled, structured-field friendly,
// writes to stderr and (optionally) a rotated file. Adapted from
// aistore's cmn/nlog surface (same function names and call shape)
// without the ring-buffer internals, which nothing in this repo needs.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	logger           = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	title  string
)

// SetOutput redirects all subsequent log lines, e.g. to an opened
// rotated file; passing nil restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
	logger.SetOutput(out)
}

func SetTitle(s string) { title = s }

func sevTag(s severity) string {
	switch s {
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "I"
	}
}

func render(format string, args []any) string {
	if format == "" {
		return fmt.Sprintln(args...)
	}
	return fmt.Sprintf(format, args...)
}

func write(sev severity, format string, args ...any) {
	msg := strings.TrimRight(render(format, args), "\n")
	mu.Lock()
	defer mu.Unlock()
	if title != "" {
		logger.Printf("%s [%s] %s", sevTag(sev), title, msg)
	} else {
		logger.Printf("%s %s", sevTag(sev), msg)
	}
}

func Infof(format string, args ...any)    { write(sevInfo, format, args...) }
func Infoln(args ...any)                  { write(sevInfo, "", args...) }
func Warningf(format string, args ...any) { write(sevWarn, format, args...) }
func Warningln(args ...any)               { write(sevWarn, "", args...) }
func Errorf(format string, args ...any)   { write(sevErr, format, args...) }
func Errorln(args ...any)                 { write(sevErr, "", args...) }

// Fields renders key=value pairs the way §7 asks for (shard,
// container_id, holder_id, key) into a single log line.
func Fields(kv ...any) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
