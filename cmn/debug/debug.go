// Package debug provides cheap runtime assertions, on by default and
// switched off at run time by setting DES_DEBUG=0; the container
// encoder and the writer use them at region-boundary checks.
/*
 * Copyright (c) 2026 Datavision Easy Store authors. All rights reserved.
 */
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("DES_DEBUG") != "0"

func ON() bool { return enabled }

// Assert panics with the given args if cond is false.
func Assert(cond bool, args ...any) {
	if !enabled || cond {
		return
	}
	panic(fmt.Sprint(args...))
}

func Assertf(cond bool, format string, args ...any) {
	if !enabled || cond {
		return
	}
	panic(fmt.Sprintf(format, args...))
}

func AssertNoErr(err error) {
	if !enabled || err == nil {
		return
	}
	panic(err)
}

func AssertFunc(f func() bool, args ...any) {
	if !enabled || f() {
		return
	}
	panic(fmt.Sprint(args...))
}
