package types

// Event represents a typed event emitted during a vault operation.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	// OperationID ties the event to the operation that produced it.
	OperationID string `json:"operationId,omitempty"`
}
