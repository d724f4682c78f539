package flows

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/volta-protocol/voltgate/db"
)

// DBStore is a Store backed by Postgres. This is what production runs
// on: records survive restarts, so webhook idempotency holds across
// process lifetimes.
type DBStore struct {
	db *db.DB
}

var _ Store = &DBStore{}

// NewDBStore returns a store using the given database connection.
func NewDBStore(database *db.DB) *DBStore {
	return &DBStore{db: database}
}

func (s *DBStore) SaveFlow(record Record) error {
	query := `INSERT INTO payment_flows (invoice_id, flow_id, bridge_id, status, processed)
		VALUES (:invoice_id, :flow_id, :bridge_id, :status, :processed)`
	if _, err := s.db.NamedExec(query, record); err != nil {
		return errors.Wrapf(err, "could not insert flow for invoice %s", record.InvoiceID)
	}
	return nil
}

func (s *DBStore) GetByInvoiceID(invoiceID string) (Record, error) {
	var record Record
	query := `SELECT invoice_id, flow_id, bridge_id, status, processed, created_at, updated_at
		FROM payment_flows WHERE invoice_id = $1`
	if err := s.db.Get(&record, query, invoiceID); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrFlowNotFound
		}
		return Record{}, errors.Wrapf(err, "could not get flow for invoice %s", invoiceID)
	}
	return record, nil
}

func (s *DBStore) GetByBridgeID(bridgeID string) (Record, error) {
	var record Record
	query := `SELECT invoice_id, flow_id, bridge_id, status, processed, created_at, updated_at
		FROM payment_flows WHERE bridge_id = $1`
	if err := s.db.Get(&record, query, bridgeID); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrFlowNotFound
		}
		return Record{}, errors.Wrapf(err, "could not get flow for bridge %s", bridgeID)
	}
	return record, nil
}

func (s *DBStore) MarkProcessed(invoiceID string) (bool, error) {
	// the WHERE clause makes this atomic: of any number of concurrent
	// callers, exactly one sees a row updated
	query := `UPDATE payment_flows SET processed = TRUE, updated_at = now()
		WHERE invoice_id = $1 AND processed = FALSE`
	result, err := s.db.Exec(query, invoiceID)
	if err != nil {
		return false, errors.Wrapf(err, "could not mark invoice %s processed", invoiceID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "could not read rows affected")
	}
	if rows > 0 {
		return true, nil
	}

	// nothing updated: either already processed, or no such flow
	if _, err := s.GetByInvoiceID(invoiceID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *DBStore) ResetProcessed(invoiceID string) error {
	query := `UPDATE payment_flows SET processed = FALSE, updated_at = now()
		WHERE invoice_id = $1`
	result, err := s.db.Exec(query, invoiceID)
	if err != nil {
		return errors.Wrapf(err, "could not reset processed for invoice %s", invoiceID)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "could not read rows affected")
	}
	if rows == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (s *DBStore) UpdateStatus(invoiceID string, status Status) error {
	record, err := s.GetByInvoiceID(invoiceID)
	if err != nil {
		return err
	}
	if !CanTransition(record.Status, status) {
		return errors.Errorf("invalid flow transition %s -> %s", record.Status, status)
	}

	query := `UPDATE payment_flows SET status = $1, updated_at = now() WHERE invoice_id = $2`
	if _, err := s.db.Exec(query, string(status), invoiceID); err != nil {
		return errors.Wrapf(err, "could not update status for invoice %s", invoiceID)
	}
	return nil
}
