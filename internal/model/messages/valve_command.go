package messages

// ValveCommand is a manual valve request received on irrigation/commands/{field}/valve.
// FieldID may be left empty when the topic already names the field.
type ValveCommand struct {
	FieldID   string `json:"field_id,omitempty"`
	Mode      string `json:"mode"`
	RequestID string `json:"request_id,omitempty"`
}
