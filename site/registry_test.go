package site

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jkguiang/dmm/config"
)

// TestMergeIPv6PoolFallsBackToStaticConfig documents the fix for an SDN
// adapter that can't yet report discovered blocks (sdn.Nonsense's
// zero-value Pools[uri], or sdn.Client against a controller whose
// ipv6pool endpoint returns no routing entries): the free pool must still
// come from the statically configured ipv6_pool rather than ending up
// empty and failing every non-best-effort Register() with PoolExhausted.
func TestMergeIPv6PoolFallsBackToStaticConfig(t *testing.T) {
	sc := config.SiteConfig{
		BestEffortIPv6: "fd00:1::1",
		IPv6Pool: []config.IPv6Block{
			{Block: "a", IPv6: "fd00:1::2"},
			{Block: "b", IPv6: "fd00:1::3"},
		},
	}

	free := mergeIPv6Pool(nil, sc)
	assert.ElementsMatch(t, []string{"fd00:1::2", "fd00:1::3"}, free)
}

// TestMergeIPv6PoolHonorsDiscoveryWhenPresent keeps the discovered-block
// path meaningful: when the adapter does report blocks, only the ones it
// names (resolved through the configured block->ipv6 map) end up free.
func TestMergeIPv6PoolHonorsDiscoveryWhenPresent(t *testing.T) {
	sc := config.SiteConfig{
		BestEffortIPv6: "fd00:1::1",
		IPv6Pool: []config.IPv6Block{
			{Block: "a", IPv6: "fd00:1::2"},
			{Block: "b", IPv6: "fd00:1::3"},
		},
	}

	free := mergeIPv6Pool([]string{"a"}, sc)
	assert.Equal(t, []string{"fd00:1::2"}, free)
}

// TestMergeIPv6PoolExcludesBestEffortBlock checks exclusion holds in both
// the discovered and the fallback path.
func TestMergeIPv6PoolExcludesBestEffortBlock(t *testing.T) {
	sc := config.SiteConfig{
		BestEffortIPv6: "fd00:1::2",
		IPv6Pool: []config.IPv6Block{
			{Block: "a", IPv6: "fd00:1::2"},
			{Block: "b", IPv6: "fd00:1::3"},
		},
	}

	assert.Equal(t, []string{"fd00:1::3"}, mergeIPv6Pool(nil, sc))
	assert.Equal(t, []string{"fd00:1::3"}, mergeIPv6Pool([]string{"a", "b"}, sc))
}
