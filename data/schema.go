// Package data provides Apache Arrow conversion for transaction batches
// handed to collaborators (threat detection, peer gossip).
package data

import (
	"github.com/apache/arrow/go/v17/arrow"
)

// TransactionSchema returns the Arrow schema for a Transaction batch.
//
// Fields:
//   - id: string - Transaction identifier
//   - from: string - Origin address
//   - to: string - Destination address
//   - target_address: string - Contract or account the transaction touches
//   - chain_id: uint64 - Chain identifier
//   - data: binary (nullable) - Opaque payload
//   - timestamp: int64 - Creation time, unix seconds
//   - dependencies: list<string> (nullable) - Prerequisite transaction ids
func TransactionSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "id", Type: arrow.BinaryTypes.String},
			{Name: "from", Type: arrow.BinaryTypes.String},
			{Name: "to", Type: arrow.BinaryTypes.String},
			{Name: "target_address", Type: arrow.BinaryTypes.String},
			{Name: "chain_id", Type: arrow.PrimitiveTypes.Uint64},
			{Name: "data", Type: arrow.BinaryTypes.Binary, Nullable: true},
			{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
			{
				Name:     "dependencies",
				Type:     arrow.ListOf(arrow.BinaryTypes.String),
				Nullable: true,
			},
		},
		nil,
	)
}
