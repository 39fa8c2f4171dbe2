package repo

import (
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/record"
	"github.com/ovaphlow/pitchfork/service-locker-go/internal/transaction/entity"
)

// TransactionRepo is the append-only transactions table inside a record transaction.
type TransactionRepo struct {
	tx   *record.Tx
	rows []entity.Transaction
}

func NewTransactionRepo(tx *record.Tx) (*TransactionRepo, error) {
	rows, err := record.Get[entity.Transaction](tx, record.Transactions)
	if err != nil {
		return nil, err
	}
	return &TransactionRepo{tx: tx, rows: rows}, nil
}

// Filter returns the records for which match is true, oldest first.
func (r *TransactionRepo) Filter(match func(entity.Transaction) bool) []entity.Transaction {
	out := []entity.Transaction{}
	for _, t := range r.rows {
		if match == nil || match(t) {
			out = append(out, t)
		}
	}
	return out
}

func (r *TransactionRepo) Append(t entity.Transaction) error {
	r.rows = append(r.rows, t)
	return record.Put(r.tx, record.Transactions, r.rows)
}
