package ledger

import (
	"encoding/json"
	"time"

	"promohive/pkg/events"
	"promohive/pkg/taskname"

	"github.com/hibiken/asynq"
)

// NewSettledTask carries the settled entry itself so consumers never read
// ledger state back.
func NewSettledTask(e *Entry) (*asynq.Task, error) {
	settledAt := e.UpdatedAt
	if e.SettledAt != nil {
		settledAt = *e.SettledAt
	}

	payload, err := json.Marshal(events.LedgerEntrySettled{
		EntryID:       e.ID,
		AccountID:     e.AccountID,
		Kind:          string(e.Kind),
		Direction:     string(e.Direction),
		Status:        string(e.Status),
		Amount:        e.Amount.Int64(),
		TransactionID: e.TransactionID,
		SettledAt:     settledAt.UTC().Truncate(time.Millisecond),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskname.LedgerEntrySettled, payload), nil
}

func ParseSettledTask(t *asynq.Task) (events.LedgerEntrySettled, error) {
	var ev events.LedgerEntrySettled
	err := json.Unmarshal(t.Payload(), &ev)
	return ev, err
}
