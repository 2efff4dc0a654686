package types

// Event represents a typed event emitted by the issuance engine while it
// applies a state transition.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
