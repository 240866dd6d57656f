// Package metricsdb implements DMM's read-only contract against the
// Prometheus-compatible time-series backend used to measure achieved
// throughput (spec.md §6). Grounded on the pack's only metrics-client
// dependency, github.com/prometheus/client_golang, used here as a query
// client (api/prometheus/v1) rather than as an instrumentation library.
/*
 * Copyright (c) 2024, DMM contributors.
 */
package metricsdb

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Client queries a Prometheus-compatible backend for bytes transmitted on
// an interface/device, identified by the circuit's IPv6 address.
type Client struct {
	api promv1.API
}

func NewClient(host string, port int) (*Client, error) {
	addr := fmt.Sprintf("http://%s:%d", host, port)
	c, err := api.NewClient(api.Config{Address: addr})
	if err != nil {
		return nil, errors.Wrap(err, "metricsdb: constructing prometheus client")
	}
	return &Client{api: promv1.NewAPI(c)}, nil
}

// TotalBytesTransmitted returns bytes sent on ipv6 at rse between start and
// end, by summing the rate of a bytes-transmitted counter over the window
// and multiplying by its duration (standard Prometheus counter-to-delta
// idiom).
func (c *Client) TotalBytesTransmitted(ipv6, rse string, start, end time.Time) (int64, error) {
	if end.Before(start) || end.Equal(start) {
		return 0, errors.New("metricsdb: non-positive window")
	}
	window := end.Sub(start)
	query := fmt.Sprintf(
		`sum(increase(dmm_interface_bytes_transmitted_total{rse=%q, ipv6=%q}[%s]))`,
		rse, ipv6, window.String(),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	val, warnings, err := c.api.Query(ctx, query, end)
	if err != nil {
		return 0, errors.Wrapf(err, "metricsdb: query failed for rse=%s ipv6=%s", rse, ipv6)
	}
	for _, w := range warnings {
		_ = w // warnings are discarded (not returned to the caller); not fatal
	}

	vec, ok := val.(model.Vector)
	if !ok || len(vec) == 0 {
		return 0, nil
	}
	return int64(vec[0].Value), nil
}

// AverageThroughput is a convenience matching spec.md §6's
// "average_throughput = Δbytes / Δt" definition, in bytes/sec.
func (c *Client) AverageThroughput(ipv6, rse string, start, end time.Time) (float64, error) {
	bytes, err := c.TotalBytesTransmitted(ipv6, rse, start, end)
	if err != nil {
		return 0, err
	}
	secs := end.Sub(start).Seconds()
	if secs <= 0 {
		return 0, nil
	}
	return float64(bytes) / secs, nil
}
