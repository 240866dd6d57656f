package coordinator

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jkguiang/dmm/config"
	"github.com/jkguiang/dmm/sdn"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "authkey")
	assert.Nil(t, os.WriteFile(keyPath, []byte("test-shared-secret"), 0o600))

	return &config.Config{
		DMM: config.DMMConfig{Host: "127.0.0.1", Port: 5000, AuthKey: keyPath},
		Sites: map[string]config.SiteConfig{
			"XRD1": {BestEffortIPv6: "fd00:1::1", IPv6Pool: []config.IPv6Block{{Block: "a", IPv6: "fd00:1::2"}, {Block: "b", IPv6: "fd00:1::3"}}},
			"XRD3": {BestEffortIPv6: "fd00:3::1", IPv6Pool: []config.IPv6Block{{Block: "a", IPv6: "fd00:3::2"}}},
			"XRD4": {BestEffortIPv6: "fd00:4::1", IPv6Pool: []config.IPv6Block{{Block: "a", IPv6: "fd00:4::2"}}},
		},
		Sense: config.SenseConfig{ProfileUUID: "test-profile"},
	}
}

// sendFrame drives one RPC exchange over an in-memory net.Pipe, bypassing
// Serve/Listen entirely. For SUBMITTER it also reads and returns the
// synchronous reply payload.
func sendFrame(t *testing.T, coord *Coordinator, tag Tag, payload any) []byte {
	t.Helper()
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		coord.handleConn(server)
		close(done)
	}()

	assert.Nil(t, writeFrame(client, coord.authKey, tag, payload))

	var replyPayload []byte
	if tag == TagSubmitter {
		replyTag, raw, err := readFrame(client, coord.authKey)
		assert.Nil(t, err)
		assert.Equal(t, TagSubmitter, replyTag)
		replyPayload = raw
	}
	client.Close()
	<-done
	return replyPayload
}

// waitFor polls cond until it's true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// TestS1PreparerSplitsBandwidthByPriority reproduces spec.md S1: two
// requests sharing XRD1's uplink at priorities 3 and 1 split a 100,000
// Mb/s uplink into 75,000 and 25,000 Mb/s.
func TestS1PreparerSplitsBandwidthByPriority(t *testing.T) {
	cfg := testConfig(t)
	coord, err := New(cfg, sdn.NewNonsense(), nil, nil, nil, 4)
	assert.Nil(t, err)
	defer coord.Shutdown()

	sendFrame(t, coord, TagPreparer, PreparerPayload{
		"rule1": {
			"XRD1&XRD3": PreparerEntry{TransferIDs: []string{"t1"}, Priority: 3, NBytesTotal: 1000, NTransfersTotal: 1},
			"XRD1&XRD4": PreparerEntry{TransferIDs: []string{"t2"}, Priority: 1, NBytesTotal: 1000, NTransfersTotal: 1},
		},
	})

	waitFor(t, 2*time.Second, func() bool {
		r1, r2 := coord.requests["rule1_XRD1_XRD3"], coord.requests["rule1_XRD1_XRD4"]
		return r1 != nil && r2 != nil && r1.LinkIsOpen && r2.LinkIsOpen
	})

	r13 := coord.requests["rule1_XRD1_XRD3"]
	r14 := coord.requests["rule1_XRD1_XRD4"]
	assert.EqualValues(t, 75_000, r13.Bandwidth)
	assert.EqualValues(t, 25_000, r14.Bandwidth)
}

func TestSubmitterReturnsAssignedEndpointsAndAppliesPriorityChange(t *testing.T) {
	cfg := testConfig(t)
	coord, err := New(cfg, sdn.NewNonsense(), nil, nil, nil, 4)
	assert.Nil(t, err)
	defer coord.Shutdown()

	sendFrame(t, coord, TagPreparer, PreparerPayload{
		"rule1": {"XRD1&XRD3": PreparerEntry{TransferIDs: []string{"t1"}, Priority: 1, NBytesTotal: 1000, NTransfersTotal: 1}},
	})
	waitFor(t, 2*time.Second, func() bool {
		return coord.requests["rule1_XRD1_XRD3"] != nil
	})

	raw := sendFrame(t, coord, TagSubmitter, SubmitterPayload{
		"rule1": {"XRD1&XRD3": SubmitterEntry{Priority: 5, NTransfersSubmitted: 1}},
	})
	var reply SubmitterReply
	assert.Nil(t, json.Unmarshal(raw, &reply))
	ep := reply["rule1"]["XRD1&XRD3"]
	assert.NotEmpty(t, ep["XRD1"])
	assert.NotEmpty(t, ep["XRD3"])

	req := coord.requests["rule1_XRD1_XRD3"]
	assert.EqualValues(t, 5, req.Priority)
	assert.EqualValues(t, 1, req.NTransfersSubmitted)
}

func TestFinisherClosesAndRemovesCompletedRequest(t *testing.T) {
	cfg := testConfig(t)
	coord, err := New(cfg, sdn.NewNonsense(), nil, nil, nil, 4)
	assert.Nil(t, err)
	defer coord.Shutdown()

	sendFrame(t, coord, TagPreparer, PreparerPayload{
		"rule1": {"XRD1&XRD3": PreparerEntry{TransferIDs: []string{"t1"}, Priority: 1, NBytesTotal: 1000, NTransfersTotal: 1}},
	})
	waitFor(t, 2*time.Second, func() bool {
		return coord.requests["rule1_XRD1_XRD3"] != nil
	})

	sendFrame(t, coord, TagFinisher, FinisherPayload{
		"rule1": {"XRD1&XRD3": FinisherEntry{NTransfersFinished: 1, NBytesTransferred: 1000}},
	})

	_, exists := coord.requests["rule1_XRD1_XRD3"]
	assert.False(t, exists)
}

func TestDuplicatePreparerEntryIsRejectedNotOverwritten(t *testing.T) {
	cfg := testConfig(t)
	coord, err := New(cfg, sdn.NewNonsense(), nil, nil, nil, 4)
	assert.Nil(t, err)
	defer coord.Shutdown()

	entry := PreparerEntry{TransferIDs: []string{"t1"}, Priority: 2, NBytesTotal: 1000, NTransfersTotal: 1}
	sendFrame(t, coord, TagPreparer, PreparerPayload{"rule1": {"XRD1&XRD3": entry}})
	waitFor(t, 2*time.Second, func() bool {
		return coord.requests["rule1_XRD1_XRD3"] != nil
	})
	first := coord.requests["rule1_XRD1_XRD3"]

	dup := PreparerEntry{TransferIDs: []string{"t2"}, Priority: 9, NBytesTotal: 2000, NTransfersTotal: 2}
	sendFrame(t, coord, TagPreparer, PreparerPayload{"rule1": {"XRD1&XRD3": dup}})

	assert.Same(t, first, coord.requests["rule1_XRD1_XRD3"])
	assert.EqualValues(t, 2, coord.requests["rule1_XRD1_XRD3"].Priority)
}

func TestUnknownRequestInSubmitterIsIgnored(t *testing.T) {
	cfg := testConfig(t)
	coord, err := New(cfg, sdn.NewNonsense(), nil, nil, nil, 4)
	assert.Nil(t, err)
	defer coord.Shutdown()

	raw := sendFrame(t, coord, TagSubmitter, SubmitterPayload{
		"rule1": {"XRD1&XRD3": SubmitterEntry{Priority: 1, NTransfersSubmitted: 1}},
	})
	var reply SubmitterReply
	assert.Nil(t, json.Unmarshal(raw, &reply))
	assert.Empty(t, reply["rule1"]["XRD1&XRD3"])
}
