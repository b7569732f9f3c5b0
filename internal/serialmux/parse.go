package serialmux

import "strings"

const (
	EventTypePose    = "pose"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyPayload sorts a board line by its shape. Pose reports carry a
// position object; status replies are any other JSON object.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	if strings.Contains(payload, `"position"`) {
		return EventTypePose
	}
	return EventTypeStatus
}
