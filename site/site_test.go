package site

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jkguiang/dmm/dmmerr"
)

func TestAddRemoveRequestInvariant(t *testing.T) {
	s := New("XRD1", "urn:ogf:network:nonsense.org:2013:XRD1", 100_000, "fd00::1", []string{"fd00::2", "fd00::3"})

	s.AddRequest("XRD3", 3)
	s.AddRequest("XRD4", 1)
	assert.EqualValues(t, 4, s.AllPrioSum)

	// every entry in PrioSums must be positive
	for partner, sum := range s.PrioSums {
		assert.Greaterf(t, sum, int64(0), "partner %s has non-positive prio_sum", partner)
	}

	s.RemoveRequest("XRD4", 1)
	// zeroed contributions must be dropped rather than left at 0
	_, ok := s.PrioSums["XRD4"]
	assert.False(t, ok)
	assert.EqualValues(t, 3, s.AllPrioSum)
}

func TestGetUplinkProvision(t *testing.T) {
	s := New("XRD1", "uri", 100_000, "fd00::1", nil)
	s.AddRequest("XRD3", 3)
	s.AddRequest("XRD4", 1)

	assert.EqualValues(t, 75_000, s.GetUplinkProvision("XRD3"))
	assert.EqualValues(t, 25_000, s.GetUplinkProvision("XRD4"))
	assert.EqualValues(t, 0, s.GetUplinkProvision("XRD9"))
}

func TestGetUplinkProvisionNoLiveRequests(t *testing.T) {
	s := New("XRD1", "uri", 100_000, "fd00::1", nil)
	assert.EqualValues(t, 0, s.GetUplinkProvision("XRD3"))
}

func TestReserveFreeIPv6Disjoint(t *testing.T) {
	pool := []string{"fd00::2", "fd00::3"}
	s := New("XRD1", "uri", 100_000, "fd00::1", pool)

	b1, err := s.ReserveIPv6()
	assert.Nil(t, err)
	assert.Contains(t, pool, b1)
	assert.True(t, s.UsedIPv6Pool[b1])
	assert.NotContains(t, s.FreeIPv6Pool, b1)

	b2, err := s.ReserveIPv6()
	assert.Nil(t, err)
	assert.NotEqual(t, b1, b2)

	_, err = s.ReserveIPv6()
	assert.True(t, dmmerr.IsPoolExhausted(err))

	assert.Nil(t, s.FreeIPv6(b1))
	assert.False(t, s.UsedIPv6Pool[b1])
	assert.Contains(t, s.FreeIPv6Pool, b1)

	// double-free is an error, not silently ignored
	assert.NotNil(t, s.FreeIPv6(b1))
}

func TestBestEffortBlockExcludedFromFreePool(t *testing.T) {
	// Registry.mergeIPv6Pool is responsible for exclusion; this test
	// documents the Site-level precondition it relies on.
	s := New("XRD1", "uri", 100_000, "fd00::1", []string{"fd00::2"})
	assert.NotContains(t, s.FreeIPv6Pool, s.DefaultIPv6)
}
