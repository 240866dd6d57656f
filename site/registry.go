package site

import (
	"github.com/jkguiang/dmm/config"
	"github.com/jkguiang/dmm/sdn"
)

// Registry owns the coordinator's rse_name -> *Site mapping. It is mutated
// only from the accept/handler goroutine (spec.md §5), so it carries no
// internal locking of its own.
type Registry struct {
	sites map[string]*Site
	cfg   map[string]config.SiteConfig
	disc  sdn.Adapter
}

func NewRegistry(cfg map[string]config.SiteConfig, disc sdn.Adapter) *Registry {
	return &Registry{
		sites: make(map[string]*Site),
		cfg:   cfg,
		disc:  disc,
	}
}

// GetOrCreate returns the Site for rse, discovering and constructing it on
// first reference (spec.md §3: "created on first reference, never destroyed
// during a process lifetime").
func (r *Registry) GetOrCreate(rse string) (*Site, error) {
	if s, ok := r.sites[rse]; ok {
		return s, nil
	}

	sc := r.cfg[rse] // zero value if absent; IPv6 pool merge below tolerates empty

	uri, discoveredPool, capacity, err := sdn.DiscoverSite(r.disc, rse)
	if err != nil {
		return nil, err
	}

	free := mergeIPv6Pool(discoveredPool, sc)

	s := New(rse, uri, capacity, sc.BestEffortIPv6, free)
	r.sites[rse] = s
	return s, nil
}

// Get returns the Site for rse if it has already been constructed.
func (r *Registry) Get(rse string) (*Site, bool) {
	s, ok := r.sites[rse]
	return s, ok
}

// mergeIPv6Pool merges SDN-discovered blocks with the statically configured
// block->ipv6 assignment, excluding the best-effort block from the free
// pool (spec.md §4.1). SENSE-style discovery is allowed to come back empty
// ("not fully supported by SENSE yet", per the original fixture) without
// leaving every request unable to reserve an endpoint: when discovery
// reports nothing, the free pool falls back to the full static mapping in
// sc.IPv6Pool, which config.Validate already requires to be non-empty.
func mergeIPv6Pool(discovered []string, sc config.SiteConfig) []string {
	assigned := make(map[string]string, len(sc.IPv6Pool))
	for _, b := range sc.IPv6Pool {
		assigned[b.Block] = b.IPv6
	}

	blocks := discovered
	if len(blocks) == 0 {
		blocks = make([]string, 0, len(sc.IPv6Pool))
		for _, b := range sc.IPv6Pool {
			blocks = append(blocks, b.Block)
		}
	}

	free := make([]string, 0, len(blocks))
	for _, block := range blocks {
		ipv6 := block
		if v, ok := assigned[block]; ok {
			ipv6 = v
		}
		if ipv6 == sc.BestEffortIPv6 {
			continue
		}
		free = append(free, ipv6)
	}
	return free
}
