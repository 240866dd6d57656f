// Package coordinator implements the DMM RPC listener and the three
// daemon-tagged handlers (PREPARER/SUBMITTER/FINISHER) plus the global
// recompute-and-dispatch cycle that ties the site registry, request
// entities, and orchestrator together (spec.md §4.4-4.5).
/*
 * Copyright (c) 2024, DMM contributors.
 */
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jkguiang/dmm/cmn/nlog"
	"github.com/jkguiang/dmm/config"
	"github.com/jkguiang/dmm/orchestrator"
	"github.com/jkguiang/dmm/request"
	"github.com/jkguiang/dmm/sdn"
	"github.com/jkguiang/dmm/site"
	"github.com/jkguiang/dmm/store"
)

// Coordinator owns the `sites` and `requests` mappings exclusively
// (spec.md §3 "Ownership"); all mutation happens on the accept/handler
// goroutine, matching the single-writer discipline of spec.md §5.
type Coordinator struct {
	cfg *config.Config

	sites    *site.Registry
	requests map[string]*request.Request

	pool       *orchestrator.Pool
	sdnAdapter sdn.Adapter
	metrics    request.Metrics
	persist    *store.Store
	cache      *store.LocalCache

	authKey     []byte
	profileUUID string

	ln net.Listener
}

// New constructs a Coordinator. sdnAdapter and metrics may be the real
// clients or test doubles (e.g. sdn.Nonsense); persist/cache may be nil,
// in which case requests are not durable across restarts.
func New(cfg *config.Config, sdnAdapter sdn.Adapter, metrics request.Metrics, persist *store.Store, cache *store.LocalCache, nWorkers int) (*Coordinator, error) {
	authKey, err := cfg.ReadAuthKey()
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:         cfg,
		sites:       site.NewRegistry(cfg.Sites, sdnAdapter),
		requests:    make(map[string]*request.Request),
		pool:        orchestrator.NewPool(nWorkers),
		sdnAdapter:  sdnAdapter,
		metrics:     metrics,
		persist:     persist,
		cache:       cache,
		authKey:     deriveKey(authKey),
		profileUUID: cfg.Sense.ProfileUUID,
	}
	if err := c.rehydrate(); err != nil {
		return nil, err
	}
	return c, nil
}

// rehydrate restores live requests from the persistent store at startup
// (spec.md §4.6). Sites referenced by recovered rows are reconstructed
// lazily, the same way PREPARER construction does.
func (c *Coordinator) rehydrate() error {
	var rows []store.Row
	var err error
	switch {
	case c.persist != nil:
		rows, err = c.persist.LoadAll()
	case c.cache != nil:
		rows, err = c.cache.LoadAll()
	default:
		return nil
	}
	if err != nil {
		return err
	}
	for _, row := range rows {
		src, err := c.sites.GetOrCreate(row.SrcSite)
		if err != nil {
			nlog.Errorf("coordinator: rehydrate: %v", err)
			continue
		}
		dst, err := c.sites.GetOrCreate(row.DstSite)
		if err != nil {
			nlog.Errorf("coordinator: rehydrate: %v", err)
			continue
		}
		req := request.New(row.RequestID, row.RuleID, src, dst,
			store.SplitTransferIDs(row.TransferIDs), row.Priority,
			row.NBytesTotal, row.NTransfersTotal, c.profileUUID, genAlias(row.RequestID))
		req.NBytesTransferred = row.NBytesTransferred
		req.NTransfersSubmitted = row.NTransfersSubmitted
		req.NTransfersFinished = row.NTransfersFinished
		req.SrcIPv6, req.DstIPv6 = row.SrcIPv6, row.DstIPv6
		req.Bandwidth = row.Bandwidth
		req.SenseLinkID = row.SenseLinkID
		src.AddRequest(dst.RSE, req.Priority)
		dst.AddRequest(src.RSE, req.Priority)
		req.State = request.StateRegistered
		c.requests[row.RequestID] = req
		nlog.Infof("coordinator: rehydrated request %s", row.RequestID)
	}
	return nil
}

// Serve accepts connections one at a time (spec.md §5: "single-threaded...
// exactly one RPC is being processed at a time") until the listener is closed.
func (c *Coordinator) Serve(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	c.ln = ln
	nlog.Infof("coordinator: listening on %s:%d", host, port)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosedErr(err) {
				return nil
			}
			nlog.Errorf("coordinator: accept failed: %v", err)
			continue
		}
		c.handleConn(conn)
	}
}

// Shutdown closes the listener and drains the orchestrator (spec.md §5/§6).
func (c *Coordinator) Shutdown() {
	if c.ln != nil {
		c.ln.Close()
	}
	c.pool.Stop()
	if c.persist != nil {
		c.persist.Close()
	}
	if c.cache != nil {
		c.cache.Close()
	}
}

func (c *Coordinator) handleConn(conn net.Conn) {
	defer conn.Close()

	tag, payload, err := readFrame(conn, c.authKey)
	if err != nil {
		nlog.Errorf("coordinator: frame error: %v", err)
		return
	}

	switch tag {
	case TagPreparer:
		c.handlePreparer(payload)
	case TagSubmitter:
		reply := c.handleSubmitter(payload)
		if err := writeFrame(conn, c.authKey, TagSubmitter, reply); err != nil {
			nlog.Errorf("coordinator: submitter reply failed: %v", err)
		}
	case TagFinisher:
		c.handleFinisher(payload)
	default:
		nlog.Errorf("coordinator: unknown tag %q", tag)
	}
}

func (c *Coordinator) persistRequest(req *request.Request) {
	if c.persist == nil && c.cache == nil {
		return
	}
	row := store.Row{
		RequestID:           req.RequestID,
		RuleID:              req.RuleID,
		SrcSite:             req.SrcSite.RSE,
		DstSite:             req.DstSite.RSE,
		TransferIDs:         store.JoinTransferIDs(req.TransferIDs),
		Priority:            req.Priority,
		NBytesTotal:         req.NBytesTotal,
		NBytesTransferred:   req.NBytesTransferred,
		NTransfersTotal:     req.NTransfersTotal,
		NTransfersSubmitted: req.NTransfersSubmitted,
		NTransfersFinished:  req.NTransfersFinished,
		SrcIPv6:             req.SrcIPv6,
		DstIPv6:             req.DstIPv6,
		Bandwidth:           req.Bandwidth,
		SenseLinkID:         req.SenseLinkID,
	}
	if c.persist != nil {
		if err := c.persist.Upsert(row); err != nil {
			nlog.Errorf("coordinator: persist: %v", err)
		}
	}
	if c.cache != nil {
		if err := c.cache.Put(row); err != nil {
			nlog.Errorf("coordinator: cache: %v", err)
		}
	}
}

func (c *Coordinator) forgetRequest(requestID string) {
	if c.persist != nil {
		if err := c.persist.Delete(requestID); err != nil {
			nlog.Errorf("coordinator: persist delete: %v", err)
		}
	}
	if c.cache != nil {
		if err := c.cache.Delete(requestID); err != nil {
			nlog.Errorf("coordinator: cache delete: %v", err)
		}
	}
}

// recomputeAndDispatch enqueues, for every live request, an orchestrator
// job that opens or reprovisions its circuit at job-run time (spec.md
// §4.5). Each job is keyed on request_id, serializing stage/provision/
// reprovision/close for a single circuit while different circuits run
// concurrently. Each transition records its own history entry (promised
// bandwidth plus, when metrics are configured, measured throughput) so an
// unchanged recompute pass — the common case — appends nothing at all.
func (c *Coordinator) recomputeAndDispatch(reason string) {
	nlog.Infof("coordinator: recompute-and-dispatch: %s", reason)
	for id, req := range c.requests {
		req := req
		c.pool.Put(id, "recompute:"+reason, func(ctx context.Context) error {
			if !req.LinkIsOpen {
				return req.OpenLink(ctx, c.sdnAdapter, c.metrics)
			}
			return req.ReprovisionLink(ctx, c.sdnAdapter, c.metrics)
		})
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
