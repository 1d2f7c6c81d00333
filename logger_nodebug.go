// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

//go:build snmp_nodebug

package snmp

// Debug logging compiled out.

func (l *Logger) Print(v ...any)                 {}
func (l *Logger) Printf(format string, v ...any) {}

func (l *Logger) Enabled() bool { return false }
