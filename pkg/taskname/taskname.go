package taskname

const (
	// Ledger tasks
	LedgerEntrySettled = "ledger:entry:settled"
	LedgerReconcile    = "ledger:reconcile"

	OfferwallExpire = "offerwall:offers:expire"
)
