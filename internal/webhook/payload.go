package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the subset of the Help Scout conversation webhook body we use.
type Payload struct {
	ID      ConversationID `json:"id"`
	Preview string         `json:"preview"`
	Status  string         `json:"status"`
}

// ConversationID accepts either a JSON string or a JSON number. Help Scout
// sends numeric ids; numbers keep their exact decimal form.
type ConversationID string

func (c *ConversationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ConversationID(strings.TrimSpace(s))
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return fmt.Errorf("webhook: conversation id must be a string or number: %w", err)
	}
	*c = ConversationID(n.String())
	return nil
}

func (c ConversationID) String() string { return string(c) }
