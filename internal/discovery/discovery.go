// Package discovery locates live devices on a subnet by probing each
// candidate address for the status document the device firmware serves, then
// re-probing mesh-neighbor addresses that other devices report but that did
// not answer the direct sweep.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// StatusPath is the fixed path of the device status document.
const StatusPath = "/json"

// Doc is a decoded status document.
type Doc map[string]any

// Name returns the device's self-reported identity: the configured unit
// name, falling back to the reported network address. Dots are replaced so
// the name is safe as a cache file name.
func (d Doc) Name() string {
	name := d.stringAt("System", "Unit Name")
	if name == "" {
		name = d.Address()
	}
	return strings.ReplaceAll(name, ".", "_")
}

// Address returns the device's self-reported network address.
func (d Doc) Address() string {
	return d.stringAt("WiFi", "IP Address")
}

// Neighbors returns the mesh-neighbor nodes the device reports, as
// (name, address) pairs.
func (d Doc) Neighbors() []Neighbor {
	raw, ok := d["nodes"].([]any)
	if !ok {
		return nil
	}
	var neighbors []Neighbor
	for _, entry := range raw {
		node, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := node["name"].(string)
		ip, _ := node["ip"].(string)
		if ip == "" {
			continue
		}
		neighbors = append(neighbors, Neighbor{Name: name, Address: ip})
	}
	return neighbors
}

func (d Doc) stringAt(section, key string) string {
	sub, ok := d[section].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := sub[key].(string)
	return v
}

// Neighbor is a mesh node reported by another device's status document.
type Neighbor struct {
	Name    string
	Address string
}

// Sink persists each discovered unit as its probe completes. Probes run
// concurrently, so implementations must be safe for concurrent use.
type Sink interface {
	SaveUnit(name, address string, raw []byte) error
}

// Options configure a Discoverer.
type Options struct {
	// Timeout bounds each phase-1 probe. Phase 2 uses three times this,
	// mesh-relayed devices answer slowly.
	Timeout time.Duration
	// MaxConcurrent bounds the probe fan-out per phase.
	MaxConcurrent int
}

// Discoverer runs the two-phase subnet sweep.
type Discoverer struct {
	opts   Options
	client *http.Client
	sink   Sink
	log    *slog.Logger
}

// New creates a Discoverer. sink may be nil when per-unit persistence is not
// wanted; a nil logger falls back to slog.Default.
func New(opts Options, sink Sink, logger *slog.Logger) *Discoverer {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		opts:   opts,
		client: &http.Client{},
		sink:   sink,
		log:    logger,
	}
}

// SetClient overrides the HTTP client, used by tests to stub the transport.
func (d *Discoverer) SetClient(c *http.Client) {
	d.client = c
}

// Discover sweeps the /24 of the given representative address and returns
// the merged name→document mapping of everything that answered, including
// units reachable only as mesh neighbors of direct responders.
func (d *Discoverer) Discover(ctx context.Context, ipRange string) (map[string]Doc, error) {
	candidates, err := hostAddrs(ipRange)
	if err != nil {
		return nil, err
	}
	d.log.Info("running discovery", "range", ipRange, "candidates", len(candidates))

	return d.DiscoverAddrs(ctx, candidates), nil
}

// DiscoverAddrs runs the two-phase probe against an explicit candidate list,
// used directly after a prescan has already trimmed the subnet.
func (d *Discoverer) DiscoverAddrs(ctx context.Context, addrs []string) map[string]Doc {
	units := d.probeAll(ctx, addrs, d.opts.Timeout)
	d.log.Info("discovered units", "count", len(units))

	// Mesh neighbors do not always answer a direct sweep. Collect the
	// addresses of neighbors whose name is still unknown and give them a
	// second, slower chance.
	var retry []string
	for _, doc := range units {
		for _, n := range doc.Neighbors() {
			if _, ok := units[n.Name]; !ok {
				retry = append(retry, n.Address)
			}
		}
	}

	if len(retry) > 0 {
		extra := d.probeAll(ctx, retry, d.opts.Timeout*3)
		if len(extra) > 0 {
			d.log.Info("discovered units via mesh neighbors", "count", len(extra))
			for name, doc := range extra {
				units[name] = doc
			}
		}
	}
	return units
}

// probeAll probes every address with a bounded worker fan-out and drains the
// collector once all probes finished. Phase ordering is the caller's
// concern: this function does not return until the whole burst completes.
func (d *Discoverer) probeAll(ctx context.Context, addrs []string, timeout time.Duration) map[string]Doc {
	collector := make(chan Doc, len(addrs))
	sem := make(chan struct{}, d.opts.MaxConcurrent)

	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if doc := d.probe(ctx, addr, timeout); doc != nil {
				collector <- doc
			}
		}()
	}
	wg.Wait()
	close(collector)

	units := make(map[string]Doc)
	for doc := range collector {
		units[doc.Name()] = doc
	}
	return units
}

// probe fetches one address's status document. Most candidate addresses host
// nothing, so every failure mode short of success just drops the candidate
// at debug level.
func (d *Discoverer) probe(ctx context.Context, addr string, timeout time.Duration) Doc {
	url := "http://" + addr + StatusPath
	d.log.Debug("trying", "url", url)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		d.log.Debug("request error", "url", url, "error", err)
		return nil
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Debug("request error", "url", url, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		d.log.Debug("request response", "url", url, "status", resp.StatusCode)
		return nil
	}

	var raw strings.Builder
	var doc Doc
	dec := json.NewDecoder(io.TeeReader(resp.Body, &raw))
	if err := dec.Decode(&doc); err != nil {
		d.log.Debug("document decode error", "url", url, "error", err)
		return nil
	}

	if d.sink != nil {
		if err := d.sink.SaveUnit(doc.Name(), doc.Address(), []byte(raw.String())); err != nil {
			d.log.Error("persist unit", "unit", doc.Name(), "error", err)
		}
	}
	return doc
}

// hostAddrs lists the 253 usable host addresses of the /24 containing the
// given representative address.
func hostAddrs(ipRange string) ([]string, error) {
	parts := strings.Split(ipRange, ".")
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid address range %q", ipRange)
	}
	base := strings.Join(parts[:3], ".")
	addrs := make([]string, 0, 253)
	for last := 1; last < 254; last++ {
		addrs = append(addrs, fmt.Sprintf("%s.%d", base, last))
	}
	return addrs, nil
}
