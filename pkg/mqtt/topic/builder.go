package topic

import (
	"fmt"
)

// Constants defining the standard topic segments. These act as the protocol
// contract between the hub and the charge-point operator backends; changing
// them breaks compatibility with deployed operators.
const (
	// SuffixCommand represents the downstream command topic (Hub -> Operator).
	// Structure: {root}/command/{evseID}
	SuffixCommand = "command"

	// SuffixCommandAck represents the upstream acknowledgement topic (Operator -> Hub).
	// By placing it under 'command/ack', we maintain logical grouping.
	// Structure: {root}/command/ack/{evseID}
	SuffixCommandAck = "command/ack"

	// SuffixStatus represents the upstream status report topic (Operator -> Hub).
	// Structure: {root}/status/{operatorID}/{evseID}
	SuffixStatus = "status"

	// SuffixDiff represents the downstream fleet diff topic (Hub -> Partners).
	// Structure: {root}/diff/{operatorID}
	SuffixDiff = "diff"

	// SuffixSession represents the downstream session event topic (Hub -> Partners).
	// Structure: {root}/session/{evseID}
	SuffixSession = "session"
)

// TopicBuilder encapsulates the logic for constructing MQTT topic strings.
// It ensures consistency across the entire project.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "roaming/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: root}
}

// Command returns the topic string for sending commands to a specific EVSE.
// Direction: Hub -> Operator
func (b *TopicBuilder) Command(evseID string) string {
	return b.build(SuffixCommand, evseID)
}

// CommandAck returns the topic string for an operator to report command status.
// Direction: Operator -> Hub
func (b *TopicBuilder) CommandAck(evseID string) string {
	return b.build(SuffixCommandAck, evseID)
}

// CommandAckWildcard returns the wildcard topic used by the hub to subscribe to ALL acknowledgements.
// Result: {root}/command/ack/+
func (b *TopicBuilder) CommandAckWildcard() string {
	return b.build(SuffixCommandAck, Wildcard)
}

// Status returns the topic string for an operator to report an EVSE status.
// Direction: Operator -> Hub
func (b *TopicBuilder) Status(operatorID, evseID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", b.root, SuffixStatus, operatorID, evseID)
}

// StatusWildcard returns the wildcard topic used by the hub to subscribe to ALL status reports.
// Result: {root}/status/+/+
func (b *TopicBuilder) StatusWildcard() string {
	return fmt.Sprintf("%s/%s/%s/%s", b.root, SuffixStatus, Wildcard, Wildcard)
}

// Diff returns the topic string for publishing fleet status diffs for one operator.
// Direction: Hub -> Partners
func (b *TopicBuilder) Diff(operatorID string) string {
	return b.build(SuffixDiff, operatorID)
}

// Session returns the topic string for publishing session lifecycle events.
// Direction: Hub -> Partners
func (b *TopicBuilder) Session(evseID string) string {
	return b.build(SuffixSession, evseID)
}

// build is a private helper to construct the final topic string.
// Pattern: {root}/{suffix}/{identifier}
func (b *TopicBuilder) build(suffix, id string) string {
	return fmt.Sprintf("%s/%s/%s", b.root, suffix, id)
}
