package data

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/dagshield/dagshield-node/dag"
)

// IPCWriter serializes Arrow records to the IPC stream format, used to
// move transaction batches across process and peer boundaries.
type IPCWriter struct {
	allocator memory.Allocator
}

// NewIPCWriter creates a new IPCWriter.
func NewIPCWriter() *IPCWriter {
	return &IPCWriter{allocator: memory.DefaultAllocator}
}

// Serialize writes an Arrow record to IPC bytes.
func (w *IPCWriter) Serialize(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	writer := ipc.NewWriter(&buf, ipc.WithSchema(record.Schema()))
	if err := writer.Write(record); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// Deserialize reads IPC bytes into an Arrow record. The caller owns the
// returned record and must Release it.
func (w *IPCWriter) Deserialize(payload []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, errors.New("no records in IPC payload")
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}

// EncodeTransactions converts transactions straight to IPC bytes.
func EncodeTransactions(txs []dag.Transaction) ([]byte, error) {
	record, err := NewConverter().TransactionsToRecord(txs)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	return NewIPCWriter().Serialize(record)
}

// DecodeTransactions converts IPC bytes back to transactions.
func DecodeTransactions(payload []byte) ([]dag.Transaction, error) {
	record, err := NewIPCWriter().Deserialize(payload)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	return NewConverter().RecordToTransactions(record)
}
