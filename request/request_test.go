package request

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jkguiang/dmm/site"
)

// fakeSDN is a minimal local double for the SDN interface, independent of
// package sdn so this package keeps no import-time dependency on it.
type fakeSDN struct {
	theoretical int64
	staged      int
	provisioned int
	reprovision int
	deleted     int
	failStage   bool
}

func (f *fakeSDN) Stage(_ context.Context, _, _, _, _, _, _ string) (string, int64, error) {
	f.staged++
	return "link-1", f.theoretical, nil
}

func (f *fakeSDN) Provision(_ context.Context, _, _, _, _, _ string, _ int64, _ string) error {
	f.provisioned++
	return nil
}

func (f *fakeSDN) Reprovision(_ context.Context, _, _, _, _, _ string, _ int64, _ string) (string, error) {
	f.reprovision++
	return "link-2", nil
}

func (f *fakeSDN) Delete(_ context.Context, _ string) error {
	f.deleted++
	return nil
}

func twoSites() (*site.Site, *site.Site) {
	src := site.New("XRD1", "urn:src", 100_000, "fd00::1", []string{"fd00::2"})
	dst := site.New("XRD3", "urn:dst", 100_000, "fd00::11", []string{"fd00::12"})
	return src, dst
}

func TestBandwidthSplitByPriority(t *testing.T) {
	// spec.md S1: XRD1<->XRD3 priority 3, XRD1<->XRD4 priority 1, both with
	// a 100,000 Mb/s uplink, split 75,000/25,000.
	xrd1 := site.New("XRD1", "urn:xrd1", 100_000, "fd00::1", []string{"fd00::2", "fd00::3"})
	xrd3 := site.New("XRD3", "urn:xrd3", 100_000, "fd00::11", []string{"fd00::12"})
	xrd4 := site.New("XRD4", "urn:xrd4", 100_000, "fd00::21", []string{"fd00::22"})

	r13 := New("rule_xrd1_xrd3", "rule", xrd1, xrd3, []string{"t1"}, 3, 1000, 1, "prof", "r13")
	r14 := New("rule_xrd1_xrd4", "rule", xrd1, xrd4, []string{"t2"}, 1, 1000, 1, "prof", "r14")

	assert.Nil(t, r13.Register())
	assert.Nil(t, r14.Register())

	sdn := &fakeSDN{theoretical: 1_000_000_000}
	assert.Nil(t, r13.OpenLink(context.Background(), sdn, nil))
	assert.Nil(t, r14.OpenLink(context.Background(), sdn, nil))

	assert.EqualValues(t, 75_000, r13.Bandwidth)
	assert.EqualValues(t, 25_000, r14.Bandwidth)
}

func TestBestEffortInvariant(t *testing.T) {
	src, dst := twoSites()
	r := New("rule_xrd1_xrd3_be", "rule", src, dst, []string{"t1"}, 0, 1000, 1, "prof", "be")
	assert.Nil(t, r.Register())

	assert.Equal(t, src.DefaultIPv6, r.SrcIPv6)
	assert.Equal(t, dst.DefaultIPv6, r.DstIPv6)

	sdn := &fakeSDN{theoretical: 1_000_000}
	assert.Nil(t, r.OpenLink(context.Background(), sdn, nil))

	assert.EqualValues(t, 0, r.Bandwidth)
	assert.Equal(t, "", r.SenseLinkID)
	assert.Equal(t, 0, sdn.staged, "best-effort requests must never call SDN Stage")
	assert.Nil(t, r.AssertBestEffortInvariant())
}

func TestReprovisionIsIdempotentWhenBandwidthUnchanged(t *testing.T) {
	src, dst := twoSites()
	r := New("rule_xrd1_xrd3", "rule", src, dst, []string{"t1"}, 1, 1000, 1, "prof", "a")
	assert.Nil(t, r.Register())

	sdn := &fakeSDN{theoretical: 1_000_000_000}
	assert.Nil(t, r.OpenLink(context.Background(), sdn, nil))

	// no other requests changed, so NewBandwidth() is unchanged: reprovision
	// must be a no-op, not a second SDN round trip (spec.md invariant 5).
	assert.Nil(t, r.ReprovisionLink(context.Background(), sdn, nil))
	assert.Equal(t, 0, sdn.reprovision)

	src.AddRequest(dst.RSE, 1) // a third party now contends for the uplink
	assert.Nil(t, r.ReprovisionLink(context.Background(), sdn, nil))
	assert.Equal(t, 1, sdn.reprovision)
	assert.Equal(t, "link-2", r.SenseLinkID)
}

func TestReprovisionStagesFreshCircuitAfterBestEffortToPrioritized(t *testing.T) {
	src, dst := twoSites()
	r := New("rule_xrd1_xrd3_be", "rule", src, dst, []string{"t1"}, 0, 1000, 1, "prof", "be")
	assert.Nil(t, r.Register())

	sdn := &fakeSDN{theoretical: 1_000_000_000}
	assert.Nil(t, r.OpenLink(context.Background(), sdn, nil))
	assert.Equal(t, "", r.SenseLinkID)

	assert.Nil(t, r.ChangePriority(2))
	assert.NotEqual(t, src.DefaultIPv6, r.SrcIPv6, "reprioritized request must hold a dedicated block, not the shared default")

	assert.Nil(t, r.ReprovisionLink(context.Background(), sdn, nil))
	assert.Equal(t, 1, sdn.staged, "must stage a brand-new circuit, not reprovision a nonexistent one")
	assert.Equal(t, "link-1", r.SenseLinkID)
	assert.EqualValues(t, 100_000, r.Bandwidth) // site uplink capacity caps it well below the theoretical bandwidth
}

func TestReprovisionTearsDownCircuitAfterPrioritizedToBestEffort(t *testing.T) {
	src, dst := twoSites()
	r := New("rule_xrd1_xrd3", "rule", src, dst, []string{"t1"}, 1, 1000, 1, "prof", "a")
	assert.Nil(t, r.Register())

	sdn := &fakeSDN{theoretical: 1_000_000_000}
	assert.Nil(t, r.OpenLink(context.Background(), sdn, nil))
	assert.NotEqual(t, "", r.SenseLinkID)

	assert.Nil(t, r.ChangePriority(0))
	assert.Equal(t, src.DefaultIPv6, r.SrcIPv6, "reverting to best-effort must release the dedicated block")

	assert.Nil(t, r.ReprovisionLink(context.Background(), sdn, nil))
	assert.Equal(t, 1, sdn.deleted, "must delete the now-unneeded circuit")
	assert.Equal(t, "", r.SenseLinkID)
	assert.EqualValues(t, 0, r.Bandwidth)
}

func TestStateTransitions(t *testing.T) {
	src, dst := twoSites()
	r := New("rule_xrd1_xrd3", "rule", src, dst, []string{"t1"}, 1, 1000, 1, "prof", "a")
	assert.Equal(t, StateInit, r.State)

	assert.Nil(t, r.Register())
	assert.Equal(t, StateRegistered, r.State)

	sdn := &fakeSDN{theoretical: 1_000_000}
	assert.Nil(t, r.OpenLink(context.Background(), sdn, nil))
	assert.Equal(t, StateOpen, r.State)
	assert.True(t, r.LinkIsOpen)

	assert.Nil(t, r.CloseLink(context.Background(), sdn))
	assert.Equal(t, StateClosed, r.State)
	assert.False(t, r.LinkIsOpen)
	assert.Equal(t, 1, sdn.deleted)
}

func TestChangePriorityPreservesPrioSumInvariant(t *testing.T) {
	src, dst := twoSites()
	r := New("rule_xrd1_xrd3", "rule", src, dst, []string{"t1"}, 1, 1000, 1, "prof", "a")
	assert.Nil(t, r.Register())
	assert.EqualValues(t, 1, src.PrioSums[dst.RSE])

	assert.Nil(t, r.ChangePriority(4))
	assert.EqualValues(t, 4, src.PrioSums[dst.RSE])
	assert.EqualValues(t, 4, dst.PrioSums[src.RSE])
	assert.EqualValues(t, 4, src.AllPrioSum)
}

func TestHistoryRingBufferBounded(t *testing.T) {
	src, dst := twoSites()
	r := New("rule_xrd1_xrd3", "rule", src, dst, []string{"t1"}, 1, 1000, 1, "prof", "a")
	for i := 0; i < historyCap+10; i++ {
		r.appendHistory(int64(i), -1, "tick")
	}
	h := r.History()
	assert.Len(t, h, historyCap)
	// the oldest entries must have been evicted; the last entry recorded is
	// the most recently appended one.
	assert.EqualValues(t, historyCap+9, h[len(h)-1].Promised)
}

func TestCompleteWhenAllTransfersFinish(t *testing.T) {
	src, dst := twoSites()
	r := New("rule_xrd1_xrd3", "rule", src, dst, []string{"t1", "t2"}, 1, 1000, 2, "prof", "a")
	assert.False(t, r.Complete())
	r.NTransfersFinished = 2
	assert.True(t, r.Complete())
}
