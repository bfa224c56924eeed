package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditRecord is one persisted safety-planner validation: the verdict
// counters plus the full exported audit document.
type AuditRecord struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	TaskID        string          `json:"task_id,omitempty"`
	Valid         bool            `json:"valid"`
	TotalActions  int             `json:"total_actions"`
	FilteredCount int             `json:"filtered_count"`
	RejectedCount int             `json:"rejected_count"`
	Document      json.RawMessage `json:"document"`
	CreatedAt     time.Time       `json:"created_at"`
}

func scanAuditRecord(scanner interface {
	Scan(dest ...any) error
}) (*AuditRecord, error) {
	r := &AuditRecord{}
	var taskID sql.NullString
	var valid int
	var document string
	err := scanner.Scan(&r.ID, &r.SessionID, &taskID, &valid,
		&r.TotalActions, &r.FilteredCount, &r.RejectedCount, &document, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.TaskID = taskID.String
	r.Valid = valid == 1
	r.Document = json.RawMessage(document)
	return r, nil
}

func (s *Store) SaveAuditRecord(r *AuditRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO audit_records (id, session_id, task_id, valid, total_actions, filtered_count, rejected_count, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.TaskID, boolToInt(r.Valid),
		r.TotalActions, r.FilteredCount, r.RejectedCount, string(r.Document))
	if err != nil {
		return fmt.Errorf("save audit record: %w", err)
	}
	return nil
}

func (s *Store) GetAuditRecord(id string) (*AuditRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, task_id, valid, total_actions, filtered_count, rejected_count, document, created_at
		FROM audit_records WHERE id = ?`, id)
	r, err := scanAuditRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get audit record: %w", err)
	}
	return r, nil
}

func (s *Store) ListAuditRecords(sessionID string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, task_id, valid, total_actions, filtered_count, rejected_count, document, created_at
		FROM audit_records WHERE session_id = ?
		ORDER BY created_at LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		r, err := scanAuditRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// PurgeAuditRecords deletes records created before the cutoff and
// returns how many were removed.
func (s *Store) PurgeAuditRecords(before time.Time) (int64, error) {
	// created_at is filled by CURRENT_TIMESTAMP; compare in the same
	// format so the cutoff is exact.
	cutoff := before.UTC().Format("2006-01-02 15:04:05")
	res, err := s.db.Exec(`DELETE FROM audit_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	return res.RowsAffected()
}
