// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import (
	"fmt"
	"strconv"
	"strings"
)

// Oid is an object identifier as a sequence of numeric arcs. The public
// API deals in dotted-decimal strings; Oid exists for the ordering and
// subtree logic where string comparison goes wrong ("1.3.6.1.4.1.411"
// is a string prefix of "1.3.6.1.4.1.41112" but not an ancestor).
type Oid []uint32

// ParseOid parses a dotted-decimal OID, with or without a leading dot.
func ParseOid(oid string) (Oid, error) {
	trimmed := strings.Trim(oid, ".")
	if trimmed == "" {
		return nil, fmt.Errorf("empty OID %q", oid)
	}
	parts := strings.Split(trimmed, ".")
	out := make(Oid, 0, len(parts))
	for _, part := range parts {
		arc, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid OID %q: %w", oid, err)
		}
		out = append(out, uint32(arc))
	}
	return out, nil
}

func (o Oid) String() string {
	var b strings.Builder
	for _, arc := range o {
		b.WriteByte('.')
		b.WriteString(strconv.FormatUint(uint64(arc), 10))
	}
	return b.String()
}

// Compare returns -1, 0 or 1 ordering o against other lexicographically
// over arcs, with a proper prefix ordering before its extensions.
func (o Oid) Compare(other Oid) int {
	for i := 0; i < len(o) && i < len(other); i++ {
		if o[i] != other[i] {
			if o[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(o) < len(other):
		return -1
	case len(o) > len(other):
		return 1
	}
	return 0
}

// HasPrefix reports whether base equals the first len(base) arcs of o.
func (o Oid) HasPrefix(base Oid) bool {
	if len(base) > len(o) {
		return false
	}
	for i, arc := range base {
		if o[i] != arc {
			return false
		}
	}
	return true
}
