// Package connectivity reports what kind of network link is available so
// the upload engine can honor the wifi-only policy.
package connectivity

import (
	"net"
	"strings"
	"sync"
)

// Kind classifies the active network link.
type Kind int

const (
	// KindNone means no usable link is up.
	KindNone Kind = iota
	// KindWiFi means an unmetered link (wifi or wired) is up.
	KindWiFi
	// KindMobile means only a metered cellular link is up.
	KindMobile
)

// String returns a human-readable link kind.
func (k Kind) String() string {
	switch k {
	case KindWiFi:
		return "wifi"
	case KindMobile:
		return "mobile"
	default:
		return "none"
	}
}

// Prober reports the current link kind.
type Prober interface {
	Current() Kind
}

// InterfaceProber derives the link kind from the host's network interfaces.
// Interfaces whose name matches a metered prefix (wwan, rmnet, ppp) count as
// mobile; any other non-loopback interface that is up counts as wifi.
type InterfaceProber struct{}

// meteredPrefixes are interface name prefixes treated as cellular links.
var meteredPrefixes = []string{"wwan", "rmnet", "ppp"}

// Current inspects the host interfaces and classifies the link.
func (InterfaceProber) Current() Kind {
	ifaces, err := net.Interfaces()
	if err != nil {
		return KindNone
	}

	kind := KindNone
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		if isMetered(iface.Name) {
			if kind == KindNone {
				kind = KindMobile
			}
			continue
		}
		return KindWiFi
	}
	return kind
}

func isMetered(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range meteredPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// StaticProber always reports a fixed kind. Used in tests and for the
// --assume-wifi escape hatch.
type StaticProber struct {
	mu   sync.Mutex
	kind Kind
}

// NewStaticProber creates a prober pinned to kind.
func NewStaticProber(kind Kind) *StaticProber {
	return &StaticProber{kind: kind}
}

// Current returns the pinned kind.
func (p *StaticProber) Current() Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kind
}

// Set repins the reported kind.
func (p *StaticProber) Set(kind Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kind = kind
}
