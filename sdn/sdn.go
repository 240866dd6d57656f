// Package sdn defines DMM's contract with the external SDN controller:
// site/endpoint discovery and circuit stage/provision/reprovision/delete.
// Grounded on aistore's ais/backend provider-adapter pattern (a thin
// interface wrapping a slow external control plane, errors wrapped with
// github.com/pkg/errors so callers can unwrap the underlying cause).
/*
 * Copyright (c) 2024, DMM contributors.
 */
package sdn

import (
	"context"

	"github.com/pkg/errors"
	jsoniter "github.com/json-iterator/go"

	"github.com/jkguiang/dmm/dmmerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Adapter is the only surface the core (site, request, coordinator) is
// allowed to call against the SDN controller (spec.md §6).
type Adapter interface {
	DiscoverURI(rse string) (string, error)
	DiscoverIPv6Pool(uri string) ([]string, error)
	DiscoverUplinkCapacity(uri string) (int64, error)

	// Stage allocates a circuit instance and returns its id plus the
	// theoretical (unconstrained) bandwidth of the path.
	Stage(ctx context.Context, srcURI, dstURI, srcIPv6, dstIPv6, profileUUID, alias string) (linkID string, theoreticalBandwidth int64, err error)

	// Provision sets the guaranteed bandwidth of a staged circuit.
	Provision(ctx context.Context, linkID, srcURI, dstURI, srcIPv6, dstIPv6 string, bandwidth int64, alias string) error

	// Reprovision is equivalent to delete+stage+provision under the hood;
	// the returned link id supersedes oldLinkID (spec.md §4.2/§9: never
	// cache a sense_link_id across a reprovision).
	Reprovision(ctx context.Context, oldLinkID, srcURI, dstURI, srcIPv6, dstIPv6 string, newBandwidth int64, alias string) (newLinkID string, err error)

	// Delete cancels (forcing if necessary) and deletes a circuit instance.
	Delete(ctx context.Context, linkID string) error
}

// status mirrors the SENSE service-instance lifecycle states relevant to
// delete's precondition check (spec.md §6).
type status string

const (
	statusCreate    status = "CREATE"
	statusReinstate status = "REINSTATE"
	statusModify    status = "MODIFY"
	statusReady     status = "READY"
	statusCancel    status = "CANCEL"
)

func cancellable(s status) bool {
	switch s {
	case statusCreate, statusReinstate, statusModify, statusReady:
		return true
	default:
		return false
	}
}

// wrapf attaches operation context to an underlying transport/protocol
// error without discarding the cause (github.com/pkg/errors idiom, as used
// throughout aistore's backend adapters).
func wrapf(err error, op, linkID, format string, args ...any) error {
	return errors.Wrap(dmmerr.NewSDNError(op, linkID, errors.Wrapf(err, format, args...).Error()), "sdn adapter")
}
