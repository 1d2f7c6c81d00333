// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

// LoggerInterface is the sink used for debug logging. Both Print and
// Printf have the same signatures as package log in the std library, so
// a *log.Logger drops straight in. The interface is small to give you
// flexibility in how you do your debugging.
type LoggerInterface interface {
	Print(v ...any)
	Printf(format string, v ...any)
}

// Logger wraps a LoggerInterface; its zero value discards everything.
//
// For verbose logging to stdout:
//
//	session.Logger = snmp.NewLogger(log.New(os.Stdout, "", 0))
type Logger struct {
	logger LoggerInterface
}

func NewLogger(logger LoggerInterface) Logger {
	return Logger{
		logger: logger,
	}
}
