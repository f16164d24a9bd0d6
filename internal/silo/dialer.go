package silo

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// ErrRestrictedAddress is returned by the dialer when a region resolves into a
// blocked network.
var ErrRestrictedAddress = errors.New("address is restricted")

func parseCIDRs(values []string) ([]*net.IPNet, error) {
	networks := make([]*net.IPNet, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if !strings.Contains(value, "/") {
			if ip := net.ParseIP(value); ip != nil && ip.To4() != nil {
				value += "/32"
			} else {
				value += "/128"
			}
		}
		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return nil, fmt.Errorf("invalid restricted cidr %q: %w", value, err)
		}
		networks = append(networks, network)
	}
	return networks, nil
}

// newDialer refuses connections whose resolved address falls inside restricted.
// The check runs after DNS resolution so hostnames cannot bypass it.
func newDialer(restricted []*net.IPNet, timeout time.Duration) *net.Dialer {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	if len(restricted) == 0 {
		return dialer
	}
	dialer.Control = func(network, address string, _ syscall.RawConn) error {
		host, _, err := net.SplitHostPort(address)
		if err != nil {
			return err
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil
		}
		for _, blocked := range restricted {
			if blocked.Contains(ip) {
				return fmt.Errorf("%w: %s", ErrRestrictedAddress, ip)
			}
		}
		return nil
	}
	return dialer
}
