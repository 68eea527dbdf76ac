package services

import (
	"context"
	"fmt"
	"log/slog"

	"spendagg/internal/amqp"
	"spendagg/internal/core"
	"spendagg/internal/storage"
)

// TransactionService is the ledger write path. After storing a transaction
// it fires the local post-write hook so the in-process aggregate resyncs,
// and notifies remote refresh workers over AMQP. Both notifications are
// best-effort: neither ever fails the write, the periodic rebuild covers
// lost ones.
type TransactionService struct {
	storage    *storage.Repository
	amqpClient *amqp.Client
	onChange   func()
}

// NewTransactionService wires the write path. onChange is called after
// every successful write; pass the serving refresh worker's MarkDirty so
// the published snapshot follows the ledger. May be nil.
func NewTransactionService(storage *storage.Repository, amqpClient *amqp.Client, onChange func()) *TransactionService {
	return &TransactionService{
		storage:    storage,
		amqpClient: amqpClient,
		onChange:   onChange,
	}
}

// Record stores a transaction and signals the ledger change.
func (s *TransactionService) Record(ctx context.Context, tx core.Transaction) (int64, error) {
	id, err := s.storage.CreateTransaction(ctx, tx)
	if err != nil {
		return 0, fmt.Errorf("save transaction: %w", err)
	}

	s.notifyChange()
	if err := s.publishChange(ctx, id, amqp.OpCreated); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger change",
			"transaction_id", id, "error", err)
		// Don't fail the request - the transaction is saved
	}

	return id, nil
}

// Delete removes a transaction and signals the ledger change.
func (s *TransactionService) Delete(ctx context.Context, id int64) error {
	if err := s.storage.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.notifyChange()
	if err := s.publishChange(ctx, id, amqp.OpDeleted); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger change",
			"transaction_id", id, "error", err)
	}

	return nil
}

func (s *TransactionService) notifyChange() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *TransactionService) publishChange(ctx context.Context, id int64, op string) error {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping ledger change message")
		return nil
	}
	return s.amqpClient.PublishLedgerChange(ctx, id, op)
}

// Close closes both storage and AMQP connections
func (s *TransactionService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close transaction service: %v", errs)
	}

	return nil
}
