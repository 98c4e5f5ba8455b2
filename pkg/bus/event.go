package bus

import (
	"encoding/json"
	"fmt"

	"github.com/hornet-soc/hornet/pkg/models"
)

// Stream field names. The event travels as one JSON blob; tenant and type
// ride alongside for cheap filtering without decoding the body.
const (
	fieldEvent  = "event"
	fieldTenant = "tenant_id"
	fieldType   = "event_type"
)

// EncodeEvent converts an event to stream field values.
func EncodeEvent(ev *models.Event) (map[string]any, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	return map[string]any{
		fieldEvent:  string(raw),
		fieldTenant: ev.TenantID,
		fieldType:   ev.EventType,
	}, nil
}

// DecodeEvent reconstructs an event from stream field values.
func DecodeEvent(values map[string]any) (*models.Event, error) {
	raw, ok := values[fieldEvent].(string)
	if !ok {
		return nil, fmt.Errorf("stream message has no %s field", fieldEvent)
	}
	var ev models.Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil, fmt.Errorf("decode stream event: %w", err)
	}
	return &ev, nil
}
