package gateway

// EntryGate decides whether new exposure may be opened. Closing trades
// are never gated.
type EntryGate interface {
	// AllowEntry reports whether an open is allowed and, if not, why
	AllowEntry() (bool, string)
}
