package query

import "PayLedger/internal/report"

// AccountsResponse lists accounts ordered by client id.
type AccountsResponse struct {
	Accounts []report.Record `json:"accounts"`
	Count    int             `json:"count"`
	Digest   string          `json:"digest"`
}

// AccountResponse is a single account.
type AccountResponse struct {
	report.Record
}

// TransactionResponse describes a recorded deposit or withdrawal and its
// dispute history.
type TransactionResponse struct {
	Tx           uint32   `json:"tx"`
	Client       uint16   `json:"client"`
	Type         string   `json:"type"`
	Amount       string   `json:"amount"`
	DisputeState string   `json:"dispute_state"`
	History      []string `json:"history"`
}

// StatsResponse summarizes the ledger and chart.
type StatsResponse struct {
	Accounts       int    `json:"accounts"`
	LockedAccounts int    `json:"locked_accounts"`
	Transactions   int    `json:"transactions"`
	Disputed       int    `json:"disputed"`
	Digest         string `json:"digest"`
}
