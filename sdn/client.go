package sdn

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Client is a thin HTTP binding of Adapter against a real SENSE-style SDN
// controller. Wire-format details (discovery responses, workflow intents)
// follow the original project's sense_api.py; only the shapes needed by
// the Adapter contract are modeled here.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, hc: &http.Client{Timeout: 30 * time.Second}}
}

type lookupResponse struct {
	Results []struct {
		Resource string `json:"resource"`
	} `json:"results"`
}

func (c *Client) DiscoverURI(rse string) (string, error) {
	var resp lookupResponse
	if err := c.getJSON(fmt.Sprintf("/discover/lookup/%s", rse), &resp); err != nil {
		return "", errors.Wrapf(err, "discover_uri(%s)", rse)
	}
	if len(resp.Results) == 0 {
		return "", errors.Errorf("discover_uri(%s): empty result set", rse)
	}
	var rooturi string
	if err := c.getText(fmt.Sprintf("/discover/lookup/%s/rooturi", resp.Results[0].Resource), &rooturi); err != nil {
		return "", errors.Wrapf(err, "discover_uri(%s) rooturi", rse)
	}
	return rooturi, nil
}

type ipv6PoolResponse struct {
	Routing []struct {
		IPv6SubnetPool string `json:"ipv6_subnet_pool"`
	} `json:"routing"`
}

func (c *Client) DiscoverIPv6Pool(uri string) ([]string, error) {
	var resp ipv6PoolResponse
	if err := c.getJSON(fmt.Sprintf("/discover/%s/ipv6pool", uri), &resp); err != nil {
		return nil, errors.Wrapf(err, "discover_ipv6_pool(%s)", uri)
	}
	if len(resp.Routing) == 0 {
		return nil, nil
	}
	return splitCSV(resp.Routing[0].IPv6SubnetPool), nil
}

type peersResponse struct {
	PeerPoints []struct {
		PortCapacity string `json:"port_capacity"`
	} `json:"peer_points"`
}

func (c *Client) DiscoverUplinkCapacity(uri string) (int64, error) {
	var resp peersResponse
	if err := c.getJSON(fmt.Sprintf("/discover/%s/peers", uri), &resp); err != nil {
		return 0, errors.Wrapf(err, "discover_uplink_capacity(%s)", uri)
	}
	if len(resp.PeerPoints) == 0 {
		return 0, errors.Errorf("discover_uplink_capacity(%s): no peer points", uri)
	}
	cap, err := strconv.ParseInt(resp.PeerPoints[0].PortCapacity, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "discover_uplink_capacity(%s): bad capacity", uri)
	}
	return cap, nil
}

type stageIntent struct {
	ServiceProfileUUID string   `json:"service_profile_uuid"`
	Queries            []query  `json:"queries"`
}
type query struct {
	Ask     string   `json:"ask"`
	Options []string `json:"options"`
}

type stageResponse struct {
	LinkID               string `json:"link_id"`
	TheoreticalBandwidth int64  `json:"theoretical_bandwidth"`
}

func (c *Client) Stage(ctx context.Context, srcURI, dstURI, srcIPv6, dstIPv6, profileUUID, alias string) (string, int64, error) {
	intent := stageIntent{
		ServiceProfileUUID: profileUUID,
		Queries: []query{{
			Ask: "edit",
			Options: []string{
				"data.connections[0].terminals[0].uri=" + srcURI,
				"data.connections[0].terminals[0].assign_ip=true",
				"data.connections[0].terminals[1].uri=" + dstURI,
				"data.connections[0].terminals[1].assign_ip=true",
			},
		}},
	}
	var resp stageResponse
	if err := c.postJSON("/workflow/instance/new?alias="+alias, intent, &resp); err != nil {
		return "", 0, wrapf(err, "stage", "", "src=%s dst=%s", srcIPv6, dstIPv6)
	}
	return resp.LinkID, resp.TheoreticalBandwidth, nil
}

func (c *Client) Provision(ctx context.Context, linkID, srcURI, dstURI, srcIPv6, dstIPv6 string, bandwidth int64, alias string) error {
	body := map[string]any{
		"link_id":   linkID,
		"bandwidth": bandwidth,
		"alias":     alias,
	}
	var ack struct{ OK bool `json:"ok"` }
	if err := c.postJSON("/workflow/instance/"+linkID+"/operate/provision", body, &ack); err != nil {
		return wrapf(err, "provision", linkID, "bandwidth=%d", bandwidth)
	}
	if !ack.OK {
		return wrapf(errors.New("controller returned ok=false"), "provision", linkID, "")
	}
	return nil
}

func (c *Client) Reprovision(ctx context.Context, oldLinkID, srcURI, dstURI, srcIPv6, dstIPv6 string, newBandwidth int64, alias string) (string, error) {
	if err := c.Delete(ctx, oldLinkID); err != nil {
		return "", err
	}
	linkID, _, err := c.Stage(ctx, srcURI, dstURI, srcIPv6, dstIPv6, "", alias)
	if err != nil {
		return "", err
	}
	if err := c.Provision(ctx, linkID, srcURI, dstURI, srcIPv6, dstIPv6, newBandwidth, alias); err != nil {
		return "", err
	}
	return linkID, nil
}

func (c *Client) Delete(ctx context.Context, linkID string) error {
	var st struct{ Status string `json:"status"` }
	if err := c.getJSON("/workflow/instance/"+linkID+"/status", &st); err != nil {
		return wrapf(err, "delete", linkID, "status check")
	}
	if !cancellable(status(st.Status)) {
		return wrapf(errors.New("not cancellable"), "delete", linkID, "state=%s", st.Status)
	}
	cancelPath := "/workflow/instance/" + linkID + "/operate/cancel"
	if status(st.Status) != statusReady {
		cancelPath += "?force=true"
	}
	var ack struct{ OK bool `json:"ok"` }
	if err := c.postJSON(cancelPath, nil, &ack); err != nil {
		return wrapf(err, "delete", linkID, "cancel")
	}
	if err := c.postJSON("/workflow/instance/"+linkID+"/operate/delete", nil, &ack); err != nil {
		return wrapf(err, "delete", linkID, "delete")
	}
	return nil
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.hc.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("%s: http %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) getText(path string, out *string) error {
	resp, err := c.hc.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("%s: http %d", path, resp.StatusCode)
	}
	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	*out = buf.String()
	return nil
}

func (c *Client) postJSON(path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := c.hc.Post(c.baseURL+path, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("%s: http %d", path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// DiscoverSite fans discover_ipv6_pool and discover_uplink_capacity out
// concurrently once the root URI is known, using golang.org/x/sync/errgroup
// as aistore does for its own parallel discovery fan-outs.
func DiscoverSite(a Adapter, rse string) (uri string, pool []string, capacity int64, err error) {
	uri, err = a.DiscoverURI(rse)
	if err != nil {
		return "", nil, 0, err
	}
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		p, e := a.DiscoverIPv6Pool(uri)
		pool = p
		return e
	})
	g.Go(func() error {
		c, e := a.DiscoverUplinkCapacity(uri)
		capacity = c
		return e
	})
	if err := g.Wait(); err != nil {
		return "", nil, 0, err
	}
	return uri, pool, capacity, nil
}
