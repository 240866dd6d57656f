// Package dmmerr defines DMM's typed error kinds. Adapted from aistore's
// cmn/cos typed-error idiom (a small struct per kind plus an Is* predicate)
// rather than sentinel errors, so callers can recover structured fields
// (which request, which site) from a wrapped error chain.
/*
 * Copyright (c) 2024, DMM contributors.
 */
package dmmerr

import "fmt"

// ConfigError signals a malformed or incomplete configuration file; fatal at startup.
type ConfigError struct {
	Section string
	Reason  string
}

func NewConfigError(section, reason string) *ConfigError {
	return &ConfigError{Section: section, Reason: reason}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: section %q: %s", e.Section, e.Reason)
}

// DiscoveryError wraps a failed SDN discovery call (URI/pool/capacity lookup).
type DiscoveryError struct {
	RSE    string
	Reason string
}

func NewDiscoveryError(rse, reason string) *DiscoveryError {
	return &DiscoveryError{RSE: rse, Reason: reason}
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed for %q: %s", e.RSE, e.Reason)
}

// SDNError wraps a non-success response from the SDN controller during
// stage/provision/reprovision/delete.
type SDNError struct {
	Op      string
	LinkID  string
	Reason  string
}

func NewSDNError(op, linkID, reason string) *SDNError {
	return &SDNError{Op: op, LinkID: linkID, Reason: reason}
}

func (e *SDNError) Error() string {
	if e.LinkID == "" {
		return fmt.Sprintf("sdn %s failed: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("sdn %s failed (link %s): %s", e.Op, e.LinkID, e.Reason)
}

// PoolExhausted is raised by Site.ReserveIPv6 when the free pool is empty.
type PoolExhausted struct {
	RSE string
}

func NewPoolExhausted(rse string) *PoolExhausted { return &PoolExhausted{RSE: rse} }

func (e *PoolExhausted) Error() string {
	return fmt.Sprintf("no free ipv6 subnet left at site %q", e.RSE)
}

// DuplicateRequest is raised when a PREPARER entry names a request_id already
// present in the registry.
type DuplicateRequest struct {
	RequestID string
}

func NewDuplicateRequest(id string) *DuplicateRequest { return &DuplicateRequest{RequestID: id} }

func (e *DuplicateRequest) Error() string {
	return fmt.Sprintf("duplicate request %q: already registered", e.RequestID)
}

// UnknownRequest is raised when a SUBMITTER/FINISHER entry names a
// request_id absent from the registry.
type UnknownRequest struct {
	RequestID string
}

func NewUnknownRequest(id string) *UnknownRequest { return &UnknownRequest{RequestID: id} }

func (e *UnknownRequest) Error() string {
	return fmt.Sprintf("unknown request %q", e.RequestID)
}

// InvalidState reports a request whose circuit state contradicts its mode
// (Request.AssertBestEffortInvariant: a best-effort request holding a
// circuit). An SDN delete against an instance that is not in a cancellable
// state is reported as an SDNError, not as InvalidState.
type InvalidState struct {
	LinkID string
	State  string
}

func NewInvalidState(linkID, state string) *InvalidState {
	return &InvalidState{LinkID: linkID, State: state}
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("link %s: invalid state %q for delete", e.LinkID, e.State)
}

func IsConfigError(err error) bool       { _, ok := err.(*ConfigError); return ok }
func IsDiscoveryError(err error) bool    { _, ok := err.(*DiscoveryError); return ok }
func IsSDNError(err error) bool          { _, ok := err.(*SDNError); return ok }
func IsPoolExhausted(err error) bool     { _, ok := err.(*PoolExhausted); return ok }
func IsDuplicateRequest(err error) bool  { _, ok := err.(*DuplicateRequest); return ok }
func IsUnknownRequest(err error) bool    { _, ok := err.(*UnknownRequest); return ok }
func IsInvalidState(err error) bool      { _, ok := err.(*InvalidState); return ok }
