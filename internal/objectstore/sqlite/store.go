// Package sqlite implements domain.ObjectStore over a single sqlite
// database holding the three named stores (MetaDataOS, GroupDataOS,
// ElementDataOS) as tables, every operation scoped to one transaction.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/northbound-dev/mailindex/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

const (
	keyEnabled         = "mailIndexingEnabled"
	keyExcludedListIDs = "excludedListIds"
)

// Store is the sqlite-backed ObjectStore.
type Store struct {
	db *sql.DB
}

// Open opens or creates the object store database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create directory for object store: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("could not open object store: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not apply object store schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ReadEnabled(ctx context.Context) (domain.EnabledState, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return domain.EnabledState{}, fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	state, err := readEnabledTx(ctx, tx)
	if err != nil {
		return domain.EnabledState{}, err
	}
	return state, tx.Commit()
}

func readEnabledTx(ctx context.Context, tx *sql.Tx) (domain.EnabledState, error) {
	enabled, err := readMetaBool(ctx, tx, keyEnabled)
	if err != nil {
		return domain.EnabledState{}, err
	}

	var excludedJSON string
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta_data WHERE key = ?`, keyExcludedListIDs).Scan(&excludedJSON)
	if err == sql.ErrNoRows {
		return domain.EnabledState{Enabled: enabled}, nil
	}
	if err != nil {
		return domain.EnabledState{}, fmt.Errorf("could not read excludedListIds: %w", err)
	}

	var excluded []domain.GeneratedID
	if err := json.Unmarshal([]byte(excludedJSON), &excluded); err != nil {
		return domain.EnabledState{}, fmt.Errorf("could not decode excludedListIds: %w", err)
	}

	return domain.EnabledState{Enabled: enabled, ExcludedListIDs: excluded}, nil
}

func readMetaBool(ctx context.Context, tx *sql.Tx, key string) (bool, error) {
	var value string
	err := tx.QueryRowContext(ctx, `SELECT value FROM meta_data WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not read %s: %w", key, err)
	}
	return value == "true", nil
}

// WriteEnabled writes the enabled flag and the excluded-list set
// atomically in one transaction, per the progress-store contract.
func (s *Store) WriteEnabled(ctx context.Context, state domain.EnabledState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	excludedJSON, err := json.Marshal(state.ExcludedListIDs)
	if err != nil {
		return fmt.Errorf("could not encode excludedListIds: %w", err)
	}

	if err := upsertMeta(ctx, tx, keyEnabled, boolString(state.Enabled)); err != nil {
		return err
	}
	if err := upsertMeta(ctx, tx, keyExcludedListIDs, string(excludedJSON)); err != nil {
		return err
	}

	return commit(tx)
}

func upsertMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta_data (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("could not write meta key %s: %w", key, err)
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (s *Store) ReadGroup(ctx context.Context, groupID string) (domain.GroupData, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return domain.GroupData{}, fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	var ts int64
	err = tx.QueryRowContext(ctx, `SELECT index_timestamp FROM group_data WHERE mail_group_id = ?`, groupID).Scan(&ts)
	if err == sql.ErrNoRows {
		return domain.GroupData{MailGroupID: groupID, IndexTimestamp: domain.NothingIndexed}, tx.Commit()
	}
	if err != nil {
		return domain.GroupData{}, fmt.Errorf("could not read group data: %w", err)
	}

	return domain.GroupData{MailGroupID: groupID, IndexTimestamp: ts}, tx.Commit()
}

func (s *Store) WriteGroup(ctx context.Context, data domain.GroupData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO group_data (mail_group_id, index_timestamp) VALUES (?, ?)
		 ON CONFLICT(mail_group_id) DO UPDATE SET index_timestamp = excluded.index_timestamp`,
		data.MailGroupID, data.IndexTimestamp,
	)
	if err != nil {
		return fmt.Errorf("could not write group data: %w", err)
	}

	return commit(tx)
}

func (s *Store) ReadElement(ctx context.Context, encInstanceKey string) (*domain.ElementData, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	var listID string
	err = tx.QueryRowContext(ctx, `SELECT current_list_id FROM element_data WHERE enc_instance_key = ?`, encInstanceKey).Scan(&listID)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("could not read element data: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}
	return &domain.ElementData{EncInstanceKey: encInstanceKey, CurrentListID: domain.GeneratedID(listID)}, nil
}

func (s *Store) WriteElement(ctx context.Context, data domain.ElementData) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO element_data (enc_instance_key, current_list_id) VALUES (?, ?)
		 ON CONFLICT(enc_instance_key) DO UPDATE SET current_list_id = excluded.current_list_id`,
		data.EncInstanceKey, string(data.CurrentListID),
	)
	if err != nil {
		return fmt.Errorf("could not write element data: %w", err)
	}

	return commit(tx)
}

func (s *Store) DeleteElement(ctx context.Context, encInstanceKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM element_data WHERE enc_instance_key = ?`, encInstanceKey); err != nil {
		return fmt.Errorf("could not delete element data: %w", err)
	}

	return commit(tx)
}

// DeleteAll wipes every named store, used when disabling indexing.
func (s *Store) DeleteAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"meta_data", "group_data", "element_data"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("could not clear %s: %w", table, err)
		}
	}

	return commit(tx)
}

func commit(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}
