package types

// Event is a typed record of a state transition, carried as a flat attribute
// map for off-process reconciliation.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
