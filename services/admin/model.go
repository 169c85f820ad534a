package admin

import "promohive/pkg/money"

// MaxManualAmount caps a single manual credit or debit at 100000.00.
const MaxManualAmount = money.Money(10_000_000)

type BalanceParams struct {
	UserID    string
	Amount    money.Money
	Reason    string
	IPAddress string
}

type DepositParams struct {
	UserID    string
	Amount    money.Money
	WalletID  string
	TxRef     string
	IPAddress string
}

type DashboardStats struct {
	TotalUsers         int64 `json:"total_users"`
	PendingUsers       int64 `json:"pending_users"`
	ActiveTasks        int64 `json:"active_tasks"`
	PendingProofs      int64 `json:"pending_proofs"`
	PendingWithdrawals int64 `json:"pending_withdrawals"`
}
