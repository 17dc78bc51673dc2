package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Whitelist holds addresses exempt from limiting. A nil Whitelist is empty.
type Whitelist struct {
	ips  map[string]bool
	nets []*net.IPNet
}

// NewWhitelist parses IPs and CIDRs. Invalid entries are skipped and
// reported together in the error; the valid ones still apply.
func NewWhitelist(entries []string) (*Whitelist, error) {
	w := &Whitelist{ips: make(map[string]bool)}
	var errs []error
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case strings.Contains(entry, "/"):
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			w.nets = append(w.nets, ipNet)
		default:
			ip := net.ParseIP(entry)
			if ip == nil {
				errs = append(errs, fmt.Errorf("invalid IP %q", entry))
				continue
			}
			w.ips[ip.String()] = true
		}
	}
	return w, errors.Join(errs...)
}

// Len returns the number of entries.
func (w *Whitelist) Len() int {
	if w == nil {
		return 0
	}
	return len(w.ips) + len(w.nets)
}

// Contains reports whether ip is exempt.
func (w *Whitelist) Contains(ip string) bool {
	if w == nil {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if w.ips[parsed.String()] {
		return true
	}
	for _, ipNet := range w.nets {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}
