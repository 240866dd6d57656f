// Package request implements the per-request circuit lifecycle: a single
// entity combining transfer accounting and SDN circuit control, state
// machine INIT -> REGISTERED -> OPEN -> (REPROVISIONING*) -> CLOSED.
//
// Grounded on aistore's xact/xreg.Renewable lifecycle shape (New/Start,
// plus a renew-in-place transition analogous to REGISTERED->OPEN->OPEN)
// and xact/xreg's on-disk marker idiom for recording lifecycle events,
// adapted here into Request.history.
/*
 * Copyright (c) 2024, DMM contributors.
 */
package request

import (
	"context"
	"time"

	"github.com/jkguiang/dmm/dmmerr"
	"github.com/jkguiang/dmm/site"
)

type State int

const (
	StateInit State = iota
	StateRegistered
	StateOpen
	StateReprovisioning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRegistered:
		return "REGISTERED"
	case StateOpen:
		return "OPEN"
	case StateReprovisioning:
		return "REPROVISIONING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// historyCap bounds the per-request history ring buffer (spec.md §9
// "History growth" design note, resolved here per SPEC_FULL.md §4.2).
const historyCap = 64

// HistoryEntry is one lifecycle-relevant event.
type HistoryEntry struct {
	At        time.Time
	Promised  int64 // Mb/s
	Actual    int64 // Mb/s, -1 when monitoring is disabled or unmeasured
	Message   string
}

// SDN is the subset of the sdn.Adapter contract a Request's circuit
// operations call. Declared locally (rather than importing package sdn)
// so request has no compile-time dependency on the HTTP/nonsense
// implementations, only on the shape it needs.
type SDN interface {
	Stage(ctx context.Context, srcURI, dstURI, srcIPv6, dstIPv6, profileUUID, alias string) (linkID string, theoreticalBandwidth int64, err error)
	Provision(ctx context.Context, linkID, srcURI, dstURI, srcIPv6, dstIPv6 string, bandwidth int64, alias string) error
	Reprovision(ctx context.Context, oldLinkID, srcURI, dstURI, srcIPv6, dstIPv6 string, newBandwidth int64, alias string) (newLinkID string, err error)
	Delete(ctx context.Context, linkID string) error
}

// Metrics is the subset of the metrics adapter contract Request calls to
// measure achieved throughput since the last history entry.
type Metrics interface {
	TotalBytesTransmitted(ipv6, rse string, start, end time.Time) (int64, error)
}

// Request is keyed by RequestID = rule_id + "_" + src_rse + "_" + dst_rse.
type Request struct {
	RequestID string
	RuleID    string

	SrcSite *site.Site
	DstSite *site.Site

	TransferIDs []string
	Priority    int64

	NBytesTotal         int64
	NBytesTransferred   int64
	NTransfersTotal     int64
	NTransfersSubmitted int64
	NTransfersFinished  int64

	// circuit attributes
	SrcIPv6              string
	DstIPv6              string
	Bandwidth            int64
	SenseLinkID          string
	TheoreticalBandwidth int64
	LinkIsOpen           bool

	State State

	history     []HistoryEntry
	historyHead int
	historyLen  int
	lastHistory time.Time

	profileUUID string
	alias       string
}

// BestEffort reports spec.md's adopted criterion: priority == 0.
func (r *Request) BestEffort() bool { return r.Priority == 0 }

// New constructs a Request in state INIT. Call Register to advance it into
// the site registries.
func New(requestID, ruleID string, src, dst *site.Site, transferIDs []string, priority, nBytesTotal, nTransfersTotal int64, profileUUID, alias string) *Request {
	return &Request{
		RequestID:       requestID,
		RuleID:          ruleID,
		SrcSite:         src,
		DstSite:         dst,
		TransferIDs:     transferIDs,
		Priority:        priority,
		NBytesTotal:     nBytesTotal,
		NTransfersTotal: nTransfersTotal,
		State:           StateInit,
		history:         make([]HistoryEntry, historyCap),
		profileUUID:     profileUUID,
		alias:           alias,
		lastHistory:     time.Now(),
	}
}

// Register transitions INIT->REGISTERED: adds this request's priority
// contribution at both sites and binds or reserves IPv6 endpoints.
func (r *Request) Register() error {
	r.SrcSite.AddRequest(r.DstSite.RSE, r.Priority)
	r.DstSite.AddRequest(r.SrcSite.RSE, r.Priority)

	if r.BestEffort() {
		r.SrcIPv6 = r.SrcSite.DefaultIPv6
		r.DstIPv6 = r.DstSite.DefaultIPv6
		r.State = StateRegistered
		return nil
	}

	if err := r.reserveEndpoints(); err != nil {
		r.SrcSite.RemoveRequest(r.DstSite.RSE, r.Priority)
		r.DstSite.RemoveRequest(r.SrcSite.RSE, r.Priority)
		return err
	}
	r.State = StateRegistered
	return nil
}

// reserveEndpoints pops one dedicated IPv6 block from each site's free pool
// and binds them as this request's endpoints, rolling back the source-side
// reservation if the destination side is exhausted.
func (r *Request) reserveEndpoints() error {
	srcIPv6, err := r.SrcSite.ReserveIPv6()
	if err != nil {
		return err
	}
	dstIPv6, err := r.DstSite.ReserveIPv6()
	if err != nil {
		r.SrcSite.FreeIPv6(srcIPv6)
		return err
	}
	r.SrcIPv6, r.DstIPv6 = srcIPv6, dstIPv6
	return nil
}

// Deregister is the inverse of Register: returns IPv6 blocks and subtracts
// the priority contribution at both sites. Does not touch the SDN circuit;
// callers close the link separately (the FINISHER handler enqueues
// CloseLink right after deregistering).
func (r *Request) Deregister() {
	r.SrcSite.RemoveRequest(r.DstSite.RSE, r.Priority)
	r.DstSite.RemoveRequest(r.SrcSite.RSE, r.Priority)
	if !r.BestEffort() {
		r.SrcSite.FreeIPv6(r.SrcIPv6)
		r.DstSite.FreeIPv6(r.DstIPv6)
	}
}

// MaxBandwidth computes min(A,B,theoretical) per spec.md §4.2's formula.
func (r *Request) MaxBandwidth() int64 {
	srcProv := r.SrcSite.GetUplinkProvision(r.DstSite.RSE)
	dstProv := r.DstSite.GetUplinkProvision(r.SrcSite.RSE)
	max := min64(srcProv, dstProv)
	if r.TheoreticalBandwidth > 0 {
		max = min64(max, r.TheoreticalBandwidth)
	}
	return max
}

// BandwidthFraction uses only the src-side prio_sum by design (spec.md
// §4.2: symmetry is restored because MaxBandwidth already takes the min of
// both sides' provisions).
func (r *Request) BandwidthFraction() float64 {
	sum := r.SrcSite.PrioSums[r.DstSite.RSE]
	if sum <= 0 {
		return 0
	}
	return float64(r.Priority) / float64(sum)
}

// NewBandwidth is floor(MaxBandwidth * BandwidthFraction), 0 for best-effort.
func (r *Request) NewBandwidth() int64 {
	if r.BestEffort() {
		return 0
	}
	return int64(float64(r.MaxBandwidth()) * r.BandwidthFraction())
}

// OpenLink transitions REGISTERED->OPEN. m may be nil, in which case the
// history entry records a promised bandwidth only.
func (r *Request) OpenLink(ctx context.Context, sdnClient SDN, m Metrics) error {
	if r.BestEffort() {
		r.LinkIsOpen = true
		r.State = StateOpen
		r.recordHistory(m, 0, "opened (best-effort, no circuit)")
		return nil
	}

	if err := r.stageCircuit(ctx, sdnClient, m, "opened"); err != nil {
		return err
	}
	r.LinkIsOpen = true
	r.State = StateOpen
	return nil
}

// stageCircuit stages and provisions a brand-new SDN circuit for this
// request's current endpoints. Shared by OpenLink and by ReprovisionLink's
// handling of a request that opened best-effort and has since been
// reprioritized (it holds no circuit yet, so there is nothing to reprovision).
func (r *Request) stageCircuit(ctx context.Context, sdnClient SDN, m Metrics, historyMsg string) error {
	linkID, theoretical, err := sdnClient.Stage(ctx, r.SrcSite.SenseName, r.DstSite.SenseName, r.SrcIPv6, r.DstIPv6, r.profileUUID, r.alias)
	if err != nil {
		return err
	}
	r.SenseLinkID = linkID
	r.TheoreticalBandwidth = theoretical

	bw := r.NewBandwidth()
	if err := sdnClient.Provision(ctx, linkID, r.SrcSite.SenseName, r.DstSite.SenseName, r.SrcIPv6, r.DstIPv6, bw, r.alias); err != nil {
		return err
	}
	r.Bandwidth = bw
	r.recordHistory(m, bw, historyMsg)
	return nil
}

// ReprovisionLink transitions OPEN->OPEN: recomputes bandwidth and, if it
// changed, calls SDN reprovision (which supersedes SenseLinkID). Also
// handles a request that crossed the best-effort boundary since it was last
// opened: ChangePriority already reserved or released this request's IPv6
// endpoints, so here we only stage the first real circuit (priority 0 ->
// >0, SenseLinkID still empty) or tear down the one no longer needed
// (priority >0 -> 0, SenseLinkID still set) — never reprovision a link id
// that was never staged (spec.md §4.2/§9: never cache a stale sense_link_id).
func (r *Request) ReprovisionLink(ctx context.Context, sdnClient SDN, m Metrics) error {
	if r.BestEffort() {
		if r.SenseLinkID != "" {
			if err := sdnClient.Delete(ctx, r.SenseLinkID); err != nil {
				return err
			}
			r.SenseLinkID = ""
			r.recordHistory(m, 0, "reverted to best-effort")
		}
		r.Bandwidth = 0
		return nil
	}

	if r.SenseLinkID == "" {
		r.State = StateReprovisioning
		if err := r.stageCircuit(ctx, sdnClient, m, "staged (priority change from best-effort)"); err != nil {
			r.State = StateOpen
			return err
		}
		r.State = StateOpen
		return nil
	}

	newBW := r.NewBandwidth()
	if newBW == r.Bandwidth {
		return nil // idempotent: no SDN call when bandwidth is unchanged
	}

	r.State = StateReprovisioning
	newLinkID, err := sdnClient.Reprovision(ctx, r.SenseLinkID, r.SrcSite.SenseName, r.DstSite.SenseName, r.SrcIPv6, r.DstIPv6, newBW, r.alias)
	if err != nil {
		r.State = StateOpen
		return err
	}
	r.SenseLinkID = newLinkID
	r.Bandwidth = newBW
	r.State = StateOpen
	r.recordHistory(m, newBW, "reprovisioned")
	return nil
}

// CloseLink transitions OPEN->CLOSED: deletes the SDN circuit (unless
// best-effort) and forgets the link id.
func (r *Request) CloseLink(ctx context.Context, sdnClient SDN) error {
	if !r.BestEffort() && r.SenseLinkID != "" {
		if err := sdnClient.Delete(ctx, r.SenseLinkID); err != nil {
			return err
		}
	}
	r.SenseLinkID = ""
	r.LinkIsOpen = false
	r.Bandwidth = 0
	r.State = StateClosed
	r.appendHistory(0, -1, "closed")
	return nil
}

// recordHistory measures achieved throughput since the last history entry
// via the metrics adapter (if any) and appends a single history row
// carrying both the promised bandwidth and the measured one. Called by the
// circuit transitions themselves, once per transition, so a metrics outage
// never blocks SDN work and a recompute that changes nothing appends nothing.
func (r *Request) recordHistory(m Metrics, promised int64, msg string) {
	if m == nil {
		r.appendHistory(promised, -1, msg)
		return
	}
	now := time.Now()
	actual, err := m.TotalBytesTransmitted(r.SrcIPv6, r.SrcSite.RSE, r.lastHistory, now)
	if err != nil {
		r.appendHistory(promised, -1, msg+" (metrics unavailable: "+err.Error()+")")
		return
	}
	elapsed := now.Sub(r.lastHistory).Seconds()
	var throughputMbps int64
	if elapsed > 0 {
		throughputMbps = int64(float64(actual) * 8 / 1_000_000 / elapsed)
	}
	r.appendHistory(promised, throughputMbps, msg)
}

func (r *Request) appendHistory(promised, actual int64, msg string) {
	now := time.Now()
	r.history[r.historyHead] = HistoryEntry{At: now, Promised: promised, Actual: actual, Message: msg}
	r.historyHead = (r.historyHead + 1) % historyCap
	if r.historyLen < historyCap {
		r.historyLen++
	}
	r.lastHistory = now
}

// History returns the ring buffer's entries in chronological order.
func (r *Request) History() []HistoryEntry {
	out := make([]HistoryEntry, r.historyLen)
	start := (r.historyHead - r.historyLen + historyCap) % historyCap
	for i := 0; i < r.historyLen; i++ {
		out[i] = r.history[(start+i)%historyCap]
	}
	return out
}

// Complete reports whether all NTransfersTotal transfers have finished
// (spec.md §3: the condition under which FINISHER removes the request).
func (r *Request) Complete() bool {
	return r.NTransfersFinished == r.NTransfersTotal
}

// ChangePriority performs remove-then-add at both sites, preserving the
// invariant that prio_sums always reflects live contributions (spec.md §9
// Open Question: "must do remove-then-add to preserve the invariant").
//
// Crossing the best-effort boundary (priority 0 <-> >0) also reserves or
// releases this request's dedicated IPv6 endpoints, since best-effort
// requests share each site's DefaultIPv6 rather than holding one of their
// own: going best-effort -> prioritized reserves a real block at both
// sites and leaves SenseLinkID as it is; a best-effort request normally
// holds none, so the next recompute stages a genuine circuit instead of
// reprovisioning one that was never opened (if an old circuit is still
// held, the next recompute reprovisions it onto the new endpoints); going
// prioritized -> best-effort frees the reserved blocks back to the pool
// and leaves SenseLinkID alone so the next recompute can still find and
// tear down the old circuit. Both directions only touch site-owned pool
// bookkeeping here, never the SDN itself (spec.md §5: site/pool mutation
// stays on the accept/handler goroutine; SDN calls happen later, off of
// it, in ReprovisionLink).
func (r *Request) ChangePriority(newPriority int64) error {
	if newPriority == r.Priority {
		return nil
	}
	wasBestEffort := r.BestEffort()
	oldPriority := r.Priority

	r.SrcSite.RemoveRequest(r.DstSite.RSE, oldPriority)
	r.DstSite.RemoveRequest(r.SrcSite.RSE, oldPriority)
	r.Priority = newPriority
	nowBestEffort := r.BestEffort()

	if wasBestEffort && !nowBestEffort {
		if err := r.reserveEndpoints(); err != nil {
			r.Priority = oldPriority
			r.SrcSite.AddRequest(r.DstSite.RSE, oldPriority)
			r.DstSite.AddRequest(r.SrcSite.RSE, oldPriority)
			return err
		}
	} else if !wasBestEffort && nowBestEffort {
		r.SrcSite.FreeIPv6(r.SrcIPv6)
		r.DstSite.FreeIPv6(r.DstIPv6)
		r.SrcIPv6, r.DstIPv6 = r.SrcSite.DefaultIPv6, r.DstSite.DefaultIPv6
	}

	r.SrcSite.AddRequest(r.DstSite.RSE, r.Priority)
	r.DstSite.AddRequest(r.SrcSite.RSE, r.Priority)
	return nil
}

// ensure best-effort invariant callers can assert against (spec.md §3:
// best_effort => sense_link_id = "" and bandwidth = 0).
func (r *Request) AssertBestEffortInvariant() error {
	if r.BestEffort() && (r.SenseLinkID != "" || r.Bandwidth != 0) {
		return dmmerr.NewInvalidState(r.SenseLinkID, "best-effort request must not hold a circuit")
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
