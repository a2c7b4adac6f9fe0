package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Money amounts are rendered as strings with exactly two decimals, the
// precision the ledger stores.
func fixed(d decimal.Decimal) string { return d.StringFixed(2) }

func (c Commission) MarshalJSON() ([]byte, error) {
	type plain Commission
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(c), fixed(c.Amount)})
}

func (w Wallet) MarshalJSON() ([]byte, error) {
	type plain Wallet
	return json.Marshal(struct {
		plain
		Balance string `json:"balance"`
	}{plain(w), fixed(w.Balance)})
}

func (t WalletTransaction) MarshalJSON() ([]byte, error) {
	type plain WalletTransaction
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(t), fixed(t.Amount)})
}

func (s SaleRecord) MarshalJSON() ([]byte, error) {
	type plain SaleRecord
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(s), fixed(s.Amount)})
}

func (r ReconciliationReport) MarshalJSON() ([]byte, error) {
	type plain ReconciliationReport
	return json.Marshal(struct {
		plain
		Balance string `json:"balance"`
		Credits string `json:"credits"`
		Debits  string `json:"debits"`
	}{plain(r), fixed(r.Balance), fixed(r.Credits), fixed(r.Debits)})
}
