package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
)

// WebPort is the port the device configuration UI listens on.
const WebPort = "80"

// Prescan narrows a /24 sweep to the hosts with the device web port open,
// using nmap when it is installed. The HTTP probes still validate every
// survivor, the prescan only trims the dead addresses from the burst.
func Prescan(ctx context.Context, ipRange string, timeout time.Duration, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cidr, err := rangeCIDR(ipRange)
	if err != nil {
		return nil, err
	}

	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(cidr),
		nmap.WithPorts(WebPort),
		nmap.WithTimingTemplate(nmap.TimingAggressive),
	)
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	logger.Info("prescanning subnet", "cidr", cidr, "port", WebPort)
	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("prescan %s: %w", cidr, err)
	}
	if warnings != nil && len(*warnings) > 0 {
		logger.Debug("prescan warnings", "warnings", *warnings)
	}

	var hosts []string
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}
		for _, port := range host.Ports {
			if port.State.State == "open" {
				hosts = append(hosts, host.Addresses[0].Addr)
				break
			}
		}
	}
	logger.Info("prescan complete", "hosts", len(hosts))
	return hosts, nil
}

// rangeCIDR converts a representative address into its /24 in CIDR form.
func rangeCIDR(ipRange string) (string, error) {
	addrs, err := hostAddrs(ipRange)
	if err != nil {
		return "", err
	}
	// hostAddrs guarantees the first usable address is base.1.
	first := addrs[0]
	return first[:len(first)-1] + "0/24", nil
}
