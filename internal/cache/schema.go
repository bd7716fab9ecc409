package cache

// SchemaVersion is stored in PRAGMA user_version
const SchemaVersion = 1

const dropSchema = `
DROP TABLE IF EXISTS folders;
DROP TABLE IF EXISTS accounts;
`

// Schema creates the snapshot tables
const Schema = `
-- Accounts table
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    imap_host TEXT NOT NULL DEFAULT '',
    imap_username TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Folder status as of the last successful listing
CREATE TABLE IF NOT EXISTS folders (
    account_id TEXT NOT NULL,
    path TEXT NOT NULL,
    parent_path TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL,
    delimiter TEXT NOT NULL DEFAULT '',
    special_use TEXT NOT NULL DEFAULT '',
    message_count INTEGER NOT NULL DEFAULT 0,
    unseen_count INTEGER NOT NULL DEFAULT 0,
    selectable INTEGER NOT NULL DEFAULT 1,
    last_synced INTEGER,
    PRIMARY KEY (account_id, path),
    FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_folders_account_id ON folders(account_id);
`
