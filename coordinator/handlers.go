package coordinator

import (
	"context"

	"github.com/jkguiang/dmm/cmn/nlog"
	"github.com/jkguiang/dmm/dmmerr"
	"github.com/jkguiang/dmm/request"
)

// handlePreparer implements spec.md §4.4's PREPARER handler: construct
// Sites lazily, construct and register each Request, then recompute.
func (c *Coordinator) handlePreparer(raw []byte) {
	var payload PreparerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		nlog.Errorf("coordinator: preparer: bad payload: %v", err)
		return
	}

	inserted := 0
	for ruleID, pairs := range payload {
		for pair, entry := range pairs {
			src, dst, ok := splitPair(pair)
			if !ok {
				nlog.Errorf("coordinator: preparer: malformed rse pair %q", pair)
				continue
			}
			id := requestID(ruleID, src, dst)
			if _, exists := c.requests[id]; exists {
				nlog.Errorf("coordinator: preparer: %v", dmmerr.NewDuplicateRequest(id))
				continue
			}

			srcSite, err := c.sites.GetOrCreate(src)
			if err != nil {
				nlog.Errorf("coordinator: preparer: %v", err)
				continue
			}
			dstSite, err := c.sites.GetOrCreate(dst)
			if err != nil {
				nlog.Errorf("coordinator: preparer: %v", err)
				continue
			}

			req := request.New(id, ruleID, srcSite, dstSite, entry.TransferIDs,
				entry.Priority, entry.NBytesTotal, entry.NTransfersTotal,
				c.profileUUID, genAlias(id))
			if err := req.Register(); err != nil {
				// PoolExhausted: fatal to this handler entry only
				// (spec.md §7: "log and continue with the next entry").
				nlog.Errorf("coordinator: preparer: register %s: %v", id, err)
				continue
			}
			c.requests[id] = req
			c.persistRequest(req)
			inserted++
		}
	}

	if inserted > 0 {
		c.recomputeAndDispatch("accommodating for new requests")
	}
}

// handleSubmitter implements spec.md §4.4's SUBMITTER handler: update
// submitted-count and, on priority change, perform remove-then-add at both
// sites before replying synchronously with the request's assigned endpoints.
func (c *Coordinator) handleSubmitter(raw []byte) SubmitterReply {
	var payload SubmitterPayload
	reply := make(SubmitterReply)
	if err := json.Unmarshal(raw, &payload); err != nil {
		nlog.Errorf("coordinator: submitter: bad payload: %v", err)
		return reply
	}

	priorityChanged := false
	for ruleID, pairs := range payload {
		reply[ruleID] = make(map[string]map[string]string)
		for pair, entry := range pairs {
			src, dst, ok := splitPair(pair)
			if !ok {
				nlog.Errorf("coordinator: submitter: malformed rse pair %q", pair)
				continue
			}
			id := requestID(ruleID, src, dst)
			req, exists := c.requests[id]
			if !exists {
				nlog.Errorf("coordinator: submitter: %v", dmmerr.NewUnknownRequest(id))
				continue
			}

			req.NTransfersSubmitted += entry.NTransfersSubmitted
			if entry.Priority != req.Priority {
				if err := req.ChangePriority(entry.Priority); err != nil {
					nlog.Errorf("coordinator: submitter: change priority for %s: %v", id, err)
				} else {
					priorityChanged = true
				}
			}
			c.persistRequest(req)

			reply[ruleID][pair] = map[string]string{
				req.SrcSite.RSE: req.SrcIPv6,
				req.DstSite.RSE: req.DstIPv6,
			}
		}
	}

	if priorityChanged {
		c.recomputeAndDispatch("adjusting for priority update")
	}
	return reply
}

// handleFinisher implements spec.md §4.4's FINISHER handler: update
// counters, and on full completion deregister, clear+enqueue-close on the
// orchestrator, and drop the request from the registry.
func (c *Coordinator) handleFinisher(raw []byte) {
	var payload FinisherPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		nlog.Errorf("coordinator: finisher: bad payload: %v", err)
		return
	}

	anyClosed := false
	for ruleID, pairs := range payload {
		for pair, entry := range pairs {
			src, dst, ok := splitPair(pair)
			if !ok {
				nlog.Errorf("coordinator: finisher: malformed rse pair %q", pair)
				continue
			}
			id := requestID(ruleID, src, dst)
			req, exists := c.requests[id]
			if !exists {
				nlog.Errorf("coordinator: finisher: %v", dmmerr.NewUnknownRequest(id))
				continue
			}

			req.NTransfersFinished += entry.NTransfersFinished
			req.NBytesTransferred += entry.NBytesTransferred

			if !req.Complete() {
				c.persistRequest(req)
				continue
			}

			req.Deregister()
			c.pool.Clear(id)
			c.pool.Put(id, "close", func(ctx context.Context) error {
				return req.CloseLink(ctx, c.sdnAdapter)
			})
			delete(c.requests, id)
			c.forgetRequest(id)
			anyClosed = true
		}
	}

	if anyClosed {
		c.recomputeAndDispatch("adjusting for request deletion")
	}
}
