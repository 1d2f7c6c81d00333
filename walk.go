// Copyright 2017 The WavePoll SNMP Authors. All rights reserved.  Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package snmp

import "fmt"

// WalkFunc is the type of the function called for each varbind a walk
// yields. Returning an error stops the walk and surfaces that error.
type WalkFunc func(dataUnit SnmpPDU) error

// Walk retrieves the subtree of values below rootOid, calling walkFn for
// each. GETBULK is used on v2c/v3; v1 falls back to GETNEXT. The walk
// holds no state between invocations: calling Walk again with the same
// root re-issues it from the start.
func (s *Session) Walk(rootOid string, walkFn WalkFunc) error {
	if s.Version == Version1 {
		return s.walk(GetNextRequest, rootOid, walkFn)
	}
	return s.walk(GetBulkRequest, rootOid, walkFn)
}

// WalkAll is similar to Walk but returns a filled array of all values
// rather than using a callback.
func (s *Session) WalkAll(rootOid string) (results []SnmpPDU, err error) {
	err = s.Walk(rootOid, func(dataUnit SnmpPDU) error {
		results = append(results, dataUnit)
		return nil
	})
	return results, err
}

// BulkWalk retrieves the subtree using GETBULK regardless of version
// defaults. Not valid on v1.
func (s *Session) BulkWalk(rootOid string, walkFn WalkFunc) error {
	if s.Version == Version1 {
		return fmt.Errorf("BulkWalk is not supported by SNMPv1")
	}
	return s.walk(GetBulkRequest, rootOid, walkFn)
}

// BulkWalkAll is similar to BulkWalk but returns a filled array of all
// values rather than using a callback.
func (s *Session) BulkWalkAll(rootOid string) (results []SnmpPDU, err error) {
	err = s.BulkWalk(rootOid, func(dataUnit SnmpPDU) error {
		results = append(results, dataUnit)
		return nil
	})
	return results, err
}

// walk iterates GETNEXT/GETBULK from rootOid until the responses leave
// the subtree. Termination conditions, checked per varbind:
//
//   - the returned OID is no longer a descendant of rootOid (stop,
//     exclusive)
//   - the value is EndOfMibView (stop)
//   - the returned OID is not strictly greater than its predecessor
//     (broken agent; fail with ErrOidNotIncreasing)
//
// NoSuchObject/NoSuchInstance markers are skipped, not terminating.
func (s *Session) walk(getRequestType PDUType, rootOid string, walkFn WalkFunc) error {
	base, err := ParseOid(rootOid)
	if err != nil {
		return err
	}
	if len(base) < 2 {
		return fmt.Errorf("unable to walk %q: need at least two arcs", rootOid)
	}

	maxReps := s.MaxRepetitions
	if maxReps < 1 {
		maxReps = defaultMaxRepetitions
	}

	s.Logger.Printf("WALK %s: started", rootOid)
	cursor := rootOid
	var prev Oid

	for {
		var response *SnmpPacket
		switch getRequestType {
		case GetBulkRequest:
			response, err = s.GetBulk([]string{cursor}, 0, maxReps)
		case GetNextRequest:
			response, err = s.GetNext([]string{cursor})
		default:
			return fmt.Errorf("unsupported request type for walk: %#x", byte(getRequestType))
		}
		if err != nil {
			return err
		}

		if response.Error == NoSuchName {
			// v1 agents report end-of-mib this way.
			s.Logger.Print("WALK terminated with noSuchName")
			return nil
		}
		if agentErr := response.Err(); agentErr != nil {
			return agentErr
		}
		if len(response.Variables) == 0 {
			return nil
		}

		for _, pdu := range response.Variables {
			if pdu.Type == EndOfMibView {
				s.Logger.Printf("WALK %s: EndOfMibView", rootOid)
				return nil
			}

			arcs, err := ParseOid(pdu.Name)
			if err != nil {
				return err
			}
			if !arcs.HasPrefix(base) {
				s.Logger.Printf("WALK %s: left subtree at %s", rootOid, pdu.Name)
				return nil
			}
			if prev != nil && arcs.Compare(prev) <= 0 {
				return fmt.Errorf("%w: %s after %s", ErrOidNotIncreasing, pdu.Name, prev)
			}
			prev = arcs
			cursor = pdu.Name

			if pdu.Type == NoSuchObject || pdu.Type == NoSuchInstance {
				continue
			}
			if err := walkFn(pdu); err != nil {
				return err
			}
		}
	}
}
