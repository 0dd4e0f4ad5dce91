package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationID_Unmarshal(t *testing.T) {
	cases := map[string]string{
		`{"id":"42"}`:             "42",
		`{"id":" 42 "}`:           "42",
		`{"id":42}`:               "42",
		`{"id":9007199254740993}`: "9007199254740993",
		`{"id":null}`:             "",
		`{}`:                      "",
	}
	for body, want := range cases {
		var p Payload
		require.NoError(t, json.Unmarshal([]byte(body), &p), body)
		assert.Equal(t, want, p.ID.String(), body)
	}
}

func TestConversationID_RejectsOtherTypes(t *testing.T) {
	for _, body := range []string{`{"id":true}`, `{"id":{"a":1}}`, `{"id":[1]}`} {
		var p Payload
		assert.Error(t, json.Unmarshal([]byte(body), &p), body)
	}
}
