package sdn

import (
	"context"
	"fmt"
	"sync"

	"github.com/teris-io/shortid"
)

// Nonsense is a "Name-Only Nonfunctional SDN" test double: it satisfies
// Adapter without ever touching a real controller. Ported in spirit from
// the original project's nonsense.py/nonsense_api.py fixtures, used for
// local development and in the unit-test suite's S1-S6 scenarios.
type Nonsense struct {
	mu sync.Mutex

	// URIs, Pools, Capacities are canned discovery responses keyed by RSE
	// name / URI, populated by tests before use.
	URIs       map[string]string
	Pools      map[string][]string
	Capacities map[string]int64

	// TheoreticalBandwidth is returned by every Stage call unless overridden.
	TheoreticalBandwidth int64

	links map[string]status
}

func NewNonsense() *Nonsense {
	return &Nonsense{
		URIs:                 make(map[string]string),
		Pools:                make(map[string][]string),
		Capacities:           make(map[string]int64),
		TheoreticalBandwidth: 1_000_000_000_000_000, // 10^15, matches the original fixture
		links:                make(map[string]status),
	}
}

func (n *Nonsense) DiscoverURI(rse string) (string, error) {
	if uri, ok := n.URIs[rse]; ok {
		return uri, nil
	}
	return "urn:ogf:network:nonsense.org:2013:" + rse, nil
}

func (n *Nonsense) DiscoverIPv6Pool(uri string) ([]string, error) {
	if pool, ok := n.Pools[uri]; ok {
		return pool, nil
	}
	return nil, nil
}

func (n *Nonsense) DiscoverUplinkCapacity(uri string) (int64, error) {
	if cap, ok := n.Capacities[uri]; ok {
		return cap, nil
	}
	return 100_000, nil // Mb/s, matches the original fixture's default port capacity
}

func (n *Nonsense) Stage(_ context.Context, srcURI, dstURI, srcIPv6, dstIPv6, _, _ string) (string, int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, _ := shortid.Generate()
	linkID := fmt.Sprintf("nonsense-%s-%s-%s", srcURI, dstURI, id)
	n.links[linkID] = statusCreate
	_ = srcIPv6
	_ = dstIPv6
	return linkID, n.TheoreticalBandwidth, nil
}

func (n *Nonsense) Provision(_ context.Context, linkID, _, _, _, _ string, _ int64, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.links[linkID]; !ok {
		return wrapf(fmt.Errorf("no such instance"), "provision", linkID, "unknown link")
	}
	n.links[linkID] = statusReady
	return nil
}

func (n *Nonsense) Reprovision(ctx context.Context, oldLinkID, srcURI, dstURI, srcIPv6, dstIPv6 string, newBandwidth int64, alias string) (string, error) {
	if err := n.Delete(ctx, oldLinkID); err != nil {
		return "", err
	}
	linkID, _, err := n.Stage(ctx, srcURI, dstURI, srcIPv6, dstIPv6, "", alias)
	if err != nil {
		return "", err
	}
	if err := n.Provision(ctx, linkID, srcURI, dstURI, srcIPv6, dstIPv6, newBandwidth, alias); err != nil {
		return "", err
	}
	return linkID, nil
}

func (n *Nonsense) Delete(_ context.Context, linkID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	st, ok := n.links[linkID]
	if !ok {
		return wrapf(fmt.Errorf("no such instance"), "delete", linkID, "unknown link")
	}
	if !cancellable(st) {
		return wrapf(fmt.Errorf("state %s is not cancellable", st), "delete", linkID, "invalid state")
	}
	n.links[linkID] = statusCancel
	delete(n.links, linkID)
	return nil
}
