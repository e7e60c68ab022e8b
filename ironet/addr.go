// Package ironet holds the address-model types shared by the node
// discovery core: node identities, relay URLs, direct addresses, and the
// pairing of an identity with its address info.
package ironet

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"net/netip"
	"net/url"
	"time"
)

// NodeId is the opaque, fixed-width public-key identity of an endpoint in
// the overlay. It is comparable and hashable so it can key maps directly.
type NodeId [ed25519.PublicKeySize]byte

// NodeIdFromPublicKey copies an ed25519 public key into a NodeId.
func NodeIdFromPublicKey(pub ed25519.PublicKey) (NodeId, error) {
	var id NodeId
	if len(pub) != ed25519.PublicKeySize {
		return id, fmt.Errorf("ironet: public key has wrong size %d, want %d", len(pub), ed25519.PublicKeySize)
	}
	copy(id[:], pub)
	return id, nil
}

// String renders a short, log-friendly form of the id: the first 5 bytes in
// hex followed by an ellipsis, rather than logging the full identifier.
func (n NodeId) String() string {
	return hex.EncodeToString(n[:5]) + "…"
}

// RelayURL is an optional relay endpoint URL. The zero value is absent.
type RelayURL struct {
	u *url.URL
}

// ParseRelayURL parses s and wraps it as present. An empty s yields the
// absent zero value.
func ParseRelayURL(s string) (RelayURL, error) {
	if s == "" {
		return RelayURL{}, nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return RelayURL{}, fmt.Errorf("ironet: invalid relay url %q: %w", s, err)
	}
	return RelayURL{u: u}, nil
}

// IsZero reports whether no relay URL is present.
func (r RelayURL) IsZero() bool {
	return r.u == nil
}

// String returns the URL's string form, or "" when absent.
func (r RelayURL) String() string {
	if r.u == nil {
		return ""
	}
	return r.u.String()
}

// Equal compares by string form; absent equals absent.
func (r RelayURL) Equal(other RelayURL) bool {
	return r.String() == other.String()
}

// AddrInfo is a relay URL plus an ordered, de-duplicated set of direct
// transport addresses. It is empty iff both are absent/empty.
type AddrInfo struct {
	RelayURL RelayURL
	Direct   []netip.AddrPort
}

// IsEmpty reports whether both the relay URL and the direct address set are
// empty.
func (a AddrInfo) IsEmpty() bool {
	return a.RelayURL.IsZero() && len(a.Direct) == 0
}

// Equal compares structurally: same relay URL and the same set of direct
// addresses, order-independent.
func (a AddrInfo) Equal(other AddrInfo) bool {
	if !a.RelayURL.Equal(other.RelayURL) {
		return false
	}
	if len(a.Direct) != len(other.Direct) {
		return false
	}
	seen := make(map[netip.AddrPort]int, len(other.Direct))
	for _, ap := range other.Direct {
		seen[ap]++
	}
	for _, ap := range a.Direct {
		if seen[ap] == 0 {
			return false
		}
		seen[ap]--
	}
	return true
}

// WithDirect returns a copy of a with addr appended if not already present.
func (a AddrInfo) WithDirect(addr netip.AddrPort) AddrInfo {
	for _, existing := range a.Direct {
		if existing == addr {
			return a
		}
	}
	out := a
	out.Direct = append(append([]netip.AddrPort(nil), a.Direct...), addr)
	return out
}

// NodeAddr pairs a node identity with its resolved address info. This is the
// unit the discovery core hands to the transport's address book.
type NodeAddr struct {
	NodeId   NodeId
	AddrInfo AddrInfo
}

// DiscoveryItem is a single candidate emitted by a discovery backend's
// resolve stream.
type DiscoveryItem struct {
	// Provenance names the backend that produced this item. Stable per
	// backend instance, short enough to log.
	Provenance string
	// LastUpdated is microseconds since the Unix epoch when the backend
	// last refreshed this record, or nil if unknown/live.
	LastUpdated *int64
	AddrInfo    AddrInfo
}

// LastUpdatedTime converts LastUpdated to a time.Time, reporting false when
// it is absent.
func (d DiscoveryItem) LastUpdatedTime() (time.Time, bool) {
	if d.LastUpdated == nil {
		return time.Time{}, false
	}
	micros := *d.LastUpdated
	return time.UnixMicro(micros), true
}
