package data

import (
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/dagshield/dagshield-node/dag"
)

// Converter handles Transaction to Arrow conversion.
type Converter struct {
	allocator memory.Allocator
	schema    *arrow.Schema
}

// NewConverter creates a Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{
		allocator: memory.DefaultAllocator,
		schema:    TransactionSchema(),
	}
}

// TransactionsToRecord converts a slice of transactions to an Arrow
// Record. The caller owns the returned record and must Release it.
func (c *Converter) TransactionsToRecord(txs []dag.Transaction) (arrow.Record, error) {
	if len(txs) == 0 {
		return nil, errors.New("empty transaction slice")
	}

	builder := array.NewRecordBuilder(c.allocator, c.schema)
	defer builder.Release()

	idBuilder := builder.Field(0).(*array.StringBuilder)
	fromBuilder := builder.Field(1).(*array.StringBuilder)
	toBuilder := builder.Field(2).(*array.StringBuilder)
	targetBuilder := builder.Field(3).(*array.StringBuilder)
	chainBuilder := builder.Field(4).(*array.Uint64Builder)
	dataBuilder := builder.Field(5).(*array.BinaryBuilder)
	tsBuilder := builder.Field(6).(*array.Int64Builder)
	depsBuilder := builder.Field(7).(*array.ListBuilder)
	depValueBuilder := depsBuilder.ValueBuilder().(*array.StringBuilder)

	for _, tx := range txs {
		idBuilder.Append(tx.ID)
		fromBuilder.Append(tx.From)
		toBuilder.Append(tx.To)
		targetBuilder.Append(tx.TargetAddress)
		chainBuilder.Append(tx.ChainID)

		if tx.Data != nil {
			dataBuilder.Append(tx.Data)
		} else {
			dataBuilder.AppendNull()
		}

		tsBuilder.Append(tx.Timestamp)

		if len(tx.Dependencies) > 0 {
			depsBuilder.Append(true)
			for _, dep := range tx.Dependencies {
				depValueBuilder.Append(dep)
			}
		} else {
			depsBuilder.AppendNull()
		}
	}

	return builder.NewRecord(), nil
}

// RecordToTransactions converts an Arrow Record back to transactions.
func (c *Converter) RecordToTransactions(record arrow.Record) ([]dag.Transaction, error) {
	if record == nil || record.NumRows() == 0 {
		return nil, nil
	}
	if record.NumCols() < 8 {
		return nil, fmt.Errorf("invalid record: expected 8 columns, got %d", record.NumCols())
	}

	idCol, ok := record.Column(0).(*array.String)
	if !ok {
		return nil, errors.New("column 0 (id) is not a String array")
	}
	fromCol, ok := record.Column(1).(*array.String)
	if !ok {
		return nil, errors.New("column 1 (from) is not a String array")
	}
	toCol, ok := record.Column(2).(*array.String)
	if !ok {
		return nil, errors.New("column 2 (to) is not a String array")
	}
	targetCol, ok := record.Column(3).(*array.String)
	if !ok {
		return nil, errors.New("column 3 (target_address) is not a String array")
	}
	chainCol, ok := record.Column(4).(*array.Uint64)
	if !ok {
		return nil, errors.New("column 4 (chain_id) is not a Uint64 array")
	}
	dataCol, ok := record.Column(5).(*array.Binary)
	if !ok {
		return nil, errors.New("column 5 (data) is not a Binary array")
	}
	tsCol, ok := record.Column(6).(*array.Int64)
	if !ok {
		return nil, errors.New("column 6 (timestamp) is not an Int64 array")
	}
	depsCol, ok := record.Column(7).(*array.List)
	if !ok {
		return nil, errors.New("column 7 (dependencies) is not a List array")
	}

	txs := make([]dag.Transaction, record.NumRows())
	for i := 0; i < int(record.NumRows()); i++ {
		txs[i] = dag.Transaction{
			ID:            idCol.Value(i),
			From:          fromCol.Value(i),
			To:            toCol.Value(i),
			TargetAddress: targetCol.Value(i),
			ChainID:       chainCol.Value(i),
			Timestamp:     tsCol.Value(i),
		}

		if !dataCol.IsNull(i) {
			value := dataCol.Value(i)
			txs[i].Data = make([]byte, len(value))
			copy(txs[i].Data, value)
		}

		if !depsCol.IsNull(i) {
			txs[i].Dependencies = extractDependencies(depsCol, i)
		}
	}

	return txs, nil
}

// extractDependencies reads the dependency list at the given row.
func extractDependencies(depsCol *array.List, idx int) []string {
	offsets := depsCol.Offsets()
	start := offsets[idx]
	end := offsets[idx+1]

	values := depsCol.ListValues().(*array.String)

	deps := make([]string, 0, end-start)
	for j := start; j < end; j++ {
		deps = append(deps, values.Value(int(j)))
	}
	return deps
}
