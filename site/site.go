// Package site implements the per-RSE mutable registry: free/used IPv6
// subnet pools and priority-weighted uplink shares. Grounded on aistore's
// core/meta.Bck idiom (a small mutable metadata object keyed by name,
// exclusively owned and mutated by its caller, no internal locking) since
// Sites in DMM are likewise mutated only from the coordinator's single
// accept/handler goroutine (spec.md §5's single-writer discipline).
/*
 * Copyright (c) 2024, DMM contributors.
 */
package site

import (
	"time"

	"github.com/jkguiang/dmm/dmmerr"
)

// Site holds one RSE's discovered and configured network state.
type Site struct {
	RSE                 string
	SenseName            string // discovered SDN URI
	TotalUplinkCapacity  int64  // Mb/s
	DefaultIPv6          string // best-effort block, excluded from FreeIPv6Pool

	FreeIPv6Pool []string          // ordered, head is next to reserve
	UsedIPv6Pool map[string]bool   // set
	PrioSums     map[string]int64  // partner RSE -> sum of live priorities
	AllPrioSum   int64

	DiscoveredAt time.Time
}

// New constructs a Site from merged SDN discovery and static configuration.
// ipv6Pool must already exclude defaultIPv6 (the caller removes it, per
// spec.md §4.1's "best-effort block is removed from the free pool at
// construction").
func New(rse, senseName string, uplinkCapacity int64, defaultIPv6 string, ipv6Pool []string) *Site {
	free := make([]string, len(ipv6Pool))
	copy(free, ipv6Pool)
	return &Site{
		RSE:                 rse,
		SenseName:           senseName,
		TotalUplinkCapacity: uplinkCapacity,
		DefaultIPv6:         defaultIPv6,
		FreeIPv6Pool:        free,
		UsedIPv6Pool:        make(map[string]bool),
		PrioSums:            make(map[string]int64),
		DiscoveredAt:        time.Now(),
	}
}

// AddRequest records that a live request with the given priority now exists
// between this site and partner. A best-effort request (priority 0) adds no
// PrioSums entry.
func (s *Site) AddRequest(partner string, priority int64) {
	s.AllPrioSum += priority
	if priority == 0 {
		return
	}
	s.PrioSums[partner] += priority
}

// RemoveRequest is the inverse of AddRequest; once a partner's contribution
// reaches zero the key is dropped so PrioSums never holds a zero entry
// (spec.md §3 invariant: prio_sums[p] > 0 whenever key p is present).
func (s *Site) RemoveRequest(partner string, priority int64) {
	s.AllPrioSum -= priority
	s.PrioSums[partner] -= priority
	if s.PrioSums[partner] <= 0 {
		delete(s.PrioSums, partner)
	}
}

// GetUplinkProvision returns this site's uplink share allotted to partner,
// proportional to partner's share of AllPrioSum. Returns 0 if partner has no
// priority contribution. Precondition: AllPrioSum > 0 when called with a
// partner that does have a contribution; callers with no live requests at
// all never reach here (recompute-and-dispatch only runs over live requests).
func (s *Site) GetUplinkProvision(partner string) int64 {
	if s.AllPrioSum <= 0 {
		return 0
	}
	return s.TotalUplinkCapacity * s.PrioSums[partner] / s.AllPrioSum
}

// ReserveIPv6 pops the head of the free pool and marks it used.
func (s *Site) ReserveIPv6() (string, error) {
	if len(s.FreeIPv6Pool) == 0 {
		return "", dmmerr.NewPoolExhausted(s.RSE)
	}
	block := s.FreeIPv6Pool[0]
	s.FreeIPv6Pool = s.FreeIPv6Pool[1:]
	s.UsedIPv6Pool[block] = true
	return block, nil
}

// FreeIPv6 returns block to the free pool. Double-free is a caller error
// and is reported rather than silently ignored (spec.md §4.1: "double-free
// is an error").
func (s *Site) FreeIPv6(block string) error {
	if !s.UsedIPv6Pool[block] {
		return dmmerr.NewSDNError("free_ipv6", "", "block "+block+" is not in the used pool (double free)")
	}
	delete(s.UsedIPv6Pool, block)
	s.FreeIPv6Pool = append(s.FreeIPv6Pool, block)
	return nil
}
