// Package ledger builds and checks double-entry postings. Stores run
// CheckBalanced on every append and again at commit, so an unbalanced
// transaction id can never be persisted.
package ledger

import (
	"sort"

	"github.com/offlinepay/settlement/internal/apperr"
	"github.com/offlinepay/settlement/internal/models"
)

// Pair debits one account and credits another for the same amount under a
// single transaction id.
func Pair(txID, debitAccount, creditAccount string, amount int64, currency, debitDesc, creditDesc string) []models.LedgerEntry {
	return []models.LedgerEntry{
		{TxID: txID, AccountID: debitAccount, Side: models.Debit, AmountCents: amount, Currency: currency, Description: debitDesc},
		{TxID: txID, AccountID: creditAccount, Side: models.Credit, AmountCents: amount, Currency: currency, Description: creditDesc},
	}
}

type txCurrency struct{ tx, currency string }

// CheckBalanced requires, for every (tx_id, currency), that debits equal
// credits, and that every entry has a positive amount and a known side.
func CheckBalanced(entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return apperr.Unbalanced("no entries")
	}
	net := map[txCurrency]int64{}
	for _, e := range entries {
		if e.TxID == "" || e.AccountID == "" || e.Currency == "" {
			return apperr.Unbalanced("entry is missing tx_id, account_id or currency")
		}
		if e.AmountCents <= 0 {
			return apperr.Unbalanced("tx %s: amount must be > 0, got %d", e.TxID, e.AmountCents)
		}
		k := txCurrency{e.TxID, e.Currency}
		switch e.Side {
		case models.Debit:
			net[k] += e.AmountCents
		case models.Credit:
			net[k] -= e.AmountCents
		default:
			return apperr.Unbalanced("tx %s: unknown side %q", e.TxID, e.Side)
		}
	}

	keys := make([]txCurrency, 0, len(net))
	for k := range net {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].tx != keys[j].tx {
			return keys[i].tx < keys[j].tx
		}
		return keys[i].currency < keys[j].currency
	})
	for _, k := range keys {
		if n := net[k]; n != 0 {
			return apperr.Unbalanced("tx %s (%s): debits and credits differ by %d", k.tx, k.currency, n)
		}
	}
	return nil
}

// Balance of an account: credits minus debits.
func Balance(accountID string, entries []models.LedgerEntry) int64 {
	var b int64
	for _, e := range entries {
		if e.AccountID != accountID {
			continue
		}
		if e.Side == models.Credit {
			b += e.AmountCents
		} else {
			b -= e.AmountCents
		}
	}
	return b
}
