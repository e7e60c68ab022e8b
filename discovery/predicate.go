package discovery

// NeedsDiscovery decides whether a lookup is warranted for a peer given its
// liveness telemetry. A nil info means the peer is unknown to the
// telemetry, which always warrants discovery.
//
// | direct | relay | needs discovery? |
// |--------|-------|-------------------|
// | ?      | ?     | yes (info == nil) |
// | none   | none  | yes               |
// | Δd     | none  | Δd > MaxAge       |
// | none   | Δr    | Δr > MaxAge       |
// | Δd     | Δr    | Δd > MaxAge && Δr > MaxAge |
func NeedsDiscovery(info *ConnInfo) bool {
	if info == nil {
		return true
	}
	switch {
	case info.LastReceived == nil && info.LastAliveRelay == nil:
		return true
	case info.LastReceived != nil && info.LastAliveRelay != nil:
		return *info.LastReceived > MaxAge && *info.LastAliveRelay > MaxAge
	case info.LastReceived != nil:
		return *info.LastReceived > MaxAge
	default:
		return *info.LastAliveRelay > MaxAge
	}
}
