package dag

import (
	"errors"
	"time"
)

// Common errors for DAG operations
var (
	ErrNotFound  = errors.New("transaction not found")
	ErrInvalidTx = errors.New("invalid transaction")
)

// Transaction represents a unit of work submitted to the DAG processor.
// A transaction is immutable once created; its Dependencies list names
// transactions that must be processed before it becomes ready.
type Transaction struct {
	ID            string   `json:"id"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	TargetAddress string   `json:"target_address"`
	ChainID       uint64   `json:"chain_id"`
	Data          []byte   `json:"data,omitempty"`
	Timestamp     int64    `json:"timestamp"`
	Dependencies  []string `json:"dependencies,omitempty"`
}

// Validate checks if the transaction has required fields.
func (tx *Transaction) Validate() error {
	if tx.ID == "" {
		return errors.New("transaction ID is required")
	}
	for _, dep := range tx.Dependencies {
		if dep == "" {
			return errors.New("dependency ID must not be empty")
		}
		if dep == tx.ID {
			return errors.New("transaction cannot depend on itself")
		}
	}
	return nil
}

// WithTimestamp returns a copy of the transaction with the timestamp set
// to now if it was zero.
func (tx Transaction) WithTimestamp() Transaction {
	if tx.Timestamp == 0 {
		tx.Timestamp = time.Now().Unix()
	}
	return tx
}
