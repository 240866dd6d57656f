package sdn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonsenseStageProvisionReprovisionDelete(t *testing.T) {
	n := NewNonsense()
	ctx := context.Background()

	linkID, theoretical, err := n.Stage(ctx, "uri-a", "uri-b", "fd00::1", "fd00::2", "prof", "alias")
	assert.Nil(t, err)
	assert.NotEmpty(t, linkID)
	assert.EqualValues(t, n.TheoreticalBandwidth, theoretical)

	assert.Nil(t, n.Provision(ctx, linkID, "uri-a", "uri-b", "fd00::1", "fd00::2", 1000, "alias"))

	newID, err := n.Reprovision(ctx, linkID, "uri-a", "uri-b", "fd00::1", "fd00::2", 2000, "alias")
	assert.Nil(t, err)
	assert.NotEqual(t, linkID, newID)

	assert.Nil(t, n.Delete(ctx, newID))
	// double-delete must fail: the link is gone
	assert.NotNil(t, n.Delete(ctx, newID))
}

func TestNonsenseProvisionUnknownLinkFails(t *testing.T) {
	n := NewNonsense()
	err := n.Provision(context.Background(), "no-such-link", "", "", "", "", 0, "")
	assert.NotNil(t, err)
}

func TestNonsenseDiscoveryDefaults(t *testing.T) {
	n := NewNonsense()
	uri, err := n.DiscoverURI("XRD1")
	assert.Nil(t, err)
	assert.NotEmpty(t, uri)

	cap, err := n.DiscoverUplinkCapacity(uri)
	assert.Nil(t, err)
	assert.EqualValues(t, 100_000, cap)
}
