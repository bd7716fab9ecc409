package cache

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/config"
	"github.com/brandon/mailview/internal/folders"
	"github.com/brandon/mailview/pkg/types"
)

// Store reads and writes folder snapshots. It implements folders.Snapshotter.
type Store struct {
	cache  *Cache
	logger *logrus.Logger
	now    func() time.Time
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// UpsertAccount records an account's connection identity
func (s *Store) UpsertAccount(acc *config.AccountConfig) error {
	query := `
		INSERT INTO accounts (id, imap_host, imap_username, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			imap_host = excluded.imap_host,
			imap_username = excluded.imap_username,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.cache.DB().Exec(query, acc.ID(), acc.IMAPHost, acc.IMAPUsername); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// SaveTree replaces an account's snapshot with every folder in tree
func (s *Store) SaveTree(accountID string, tree *folders.Tree) error {
	tx, err := s.cache.DB().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`INSERT INTO accounts (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, accountID); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM folders WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to clear folders: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO folders (account_id, path, parent_path, display_name, delimiter, special_use,
			message_count, unseen_count, selectable, last_synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare folder insert: %w", err)
	}
	defer stmt.Close()

	synced := s.now().Unix()
	for _, n := range tree.Flatten() {
		_, err := stmt.Exec(accountID, n.Path, n.ParentPath, n.DisplayName, n.Delimiter, n.SpecialUse,
			n.TotalMessages, n.UnseenMessages, n.Selectable, synced)
		if err != nil {
			return fmt.Errorf("failed to insert folder %s: %w", n.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"account": accountID,
		"folders": tree.Len(),
	}).Debug("Saved folder snapshot")
	return nil
}

// ListFolders returns an account's snapshot ordered by path
func (s *Store) ListFolders(accountID string) ([]types.FolderSnapshot, error) {
	rows, err := s.cache.DB().Query(`
		SELECT account_id, path, parent_path, display_name, delimiter, special_use,
			message_count, unseen_count, selectable, last_synced
		FROM folders
		WHERE account_id = ?
		ORDER BY path
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query folders: %w", err)
	}
	defer rows.Close()

	var out []types.FolderSnapshot
	for rows.Next() {
		var f types.FolderSnapshot
		var lastSynced sql.NullInt64

		err := rows.Scan(
			&f.AccountID,
			&f.Path,
			&f.ParentPath,
			&f.DisplayName,
			&f.Delimiter,
			&f.SpecialUse,
			&f.TotalMessages,
			&f.UnseenMessages,
			&f.Selectable,
			&lastSynced,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		if lastSynced.Valid {
			t := time.Unix(lastSynced.Int64, 0)
			f.LastSynced = &t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LoadTree rebuilds an account's tree from its snapshot. It returns false
// when the account has no snapshot.
func (s *Store) LoadTree(accountID string) (*folders.Tree, bool, error) {
	snaps, err := s.ListFolders(accountID)
	if err != nil {
		return nil, false, err
	}
	if len(snaps) == 0 {
		return nil, false, nil
	}

	entries := make([]folders.Entry, 0, len(snaps))
	for _, f := range snaps {
		entries = append(entries, folders.Entry{
			Path:       f.Path,
			ParentPath: f.ParentPath,
			Delimiter:  f.Delimiter,
			SpecialUse: f.SpecialUse,
			Total:      f.TotalMessages,
			Unseen:     f.UnseenMessages,
			Selectable: f.Selectable,
		})
	}
	return folders.BuildTree(entries), true, nil
}

// UnreadTotal sums unseen counts over the snapshots of the given accounts
func (s *Store) UnreadTotal(accountIDs []string) (int, error) {
	total := 0
	for _, id := range accountIDs {
		var n sql.NullInt64
		err := s.cache.DB().QueryRow(`SELECT SUM(unseen_count) FROM folders WHERE account_id = ?`, id).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to sum unseen for %s: %w", id, err)
		}
		total += int(n.Int64)
	}
	return total, nil
}

// DeleteAccount removes an account and, by cascade, its folders
func (s *Store) DeleteAccount(accountID string) error {
	if _, err := s.cache.DB().Exec(`DELETE FROM accounts WHERE id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
