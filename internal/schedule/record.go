package schedule

// record is the wire shape shared by the key-value backends. Times are
// epoch milliseconds; reopenDate keeps the name the original task layout used.
type record struct {
	ConversationID  string `json:"conversationId" dynamodbav:"conversationId"`
	DueAtMs         int64  `json:"reopenDate" dynamodbav:"dueAtMs"`
	Attempts        int    `json:"attempts,omitempty" dynamodbav:"attempts"`
	NextAttemptAtMs int64  `json:"nextAttemptAt,omitempty" dynamodbav:"nextAttemptAtMs"`
	LastError       string `json:"lastError,omitempty" dynamodbav:"lastError"`
	Status          string `json:"status,omitempty" dynamodbav:"status"`
	CreatedAtMs     int64  `json:"createdAt,omitempty" dynamodbav:"createdAtMs"`
	UpdatedAtMs     int64  `json:"updatedAt,omitempty" dynamodbav:"updatedAtMs"`
}

func toRecord(s ScheduledReopen) record {
	return record{
		ConversationID:  s.ConversationID,
		DueAtMs:         DueMillis(s.DueAt),
		Attempts:        s.Attempts,
		NextAttemptAtMs: ToMillis(s.NextAttemptAt),
		LastError:       s.LastError,
		Status:          string(s.Status),
		CreatedAtMs:     ToMillis(s.CreatedAt),
		UpdatedAtMs:     ToMillis(s.UpdatedAt),
	}
}

func (r record) schedule() ScheduledReopen {
	status := Status(r.Status)
	if status == "" {
		status = StatusPending
	}
	return ScheduledReopen{
		ConversationID: r.ConversationID,
		DueAt:          DueFromMillis(r.DueAtMs),
		Attempts:       r.Attempts,
		NextAttemptAt:  FromMillis(r.NextAttemptAtMs),
		LastError:      r.LastError,
		Status:         status,
		CreatedAt:      FromMillis(r.CreatedAtMs),
		UpdatedAt:      FromMillis(r.UpdatedAtMs),
	}
}
