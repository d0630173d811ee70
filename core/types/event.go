package types

// Event represents a structured state change emitted by the protocol. The
// attribute map carries flat, stringly-typed payloads so downstream
// consumers (RPC subscribers, indexers) never need the emitting package's
// types.
type Event struct {
	Type       string
	Attributes map[string]string
}
