// Package chatlog provides best-effort SQLite persistence of committed
// conversation history for audit. The database is opened lazily and created
// on first use. If opening the DB or executing queries fails, the package
// falls back to in-memory storage; a failure here never fails the
// user-facing operation.
package chatlog

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/seleneai/selene/internal/logger"
	"github.com/seleneai/selene/internal/session"
)

// Entry is one persisted turn. Turns written by the same Append call share
// an exchange id.
type Entry struct {
	ExchangeID string    `json:"exchange_id"`
	UserID     string    `json:"user_id"`
	Seq        int       `json:"seq"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Log appends conversation snapshots to SQLite, keeping an in-memory copy
// as fallback.
type Log struct {
	path string

	once    sync.Once
	db      *sql.DB
	initErr error

	mu      sync.Mutex
	entries []Entry
}

// New creates a log writing to the given SQLite file. The file is not
// touched until the first Append or List.
func New(path string) *Log {
	return &Log{path: path}
}

func (l *Log) init() {
	db, err := sql.Open("sqlite", "file:"+l.path+"?_busy_timeout=10000")
	if err != nil {
		l.initErr = err
		logger.L.Warn("sqlite open failed; using in-memory chat log", "error", err)
		return
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS chat_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exchange_id TEXT,
		user_id TEXT,
		seq INTEGER,
		role TEXT,
		content TEXT,
		created_at DATETIME
	);`); err != nil {
		l.initErr = err
		logger.L.Warn("sqlite table creation failed; using in-memory chat log", "error", err)
		return
	}
	l.db = db
	logger.L.Info("chat log DB initialized", "path", l.path)
}

// Append persists the full current history of a user under a fresh exchange
// id. Errors are logged and swallowed.
func (l *Log) Append(userID string, history []session.Turn) {
	l.once.Do(l.init)

	exchangeID := uuid.NewString()
	now := time.Now().UTC()
	entries := make([]Entry, len(history))
	for i, t := range history {
		entries[i] = Entry{
			ExchangeID: exchangeID,
			UserID:     userID,
			Seq:        i,
			Role:       string(t.Role),
			Content:    t.Content,
			CreatedAt:  now,
		}
	}

	if l.initErr == nil && l.db != nil {
		stored := true
		for _, e := range entries {
			if _, err := l.db.Exec(
				`INSERT INTO chat_log (exchange_id, user_id, seq, role, content, created_at) VALUES (?,?,?,?,?,?);`,
				e.ExchangeID, e.UserID, e.Seq, e.Role, e.Content, e.CreatedAt,
			); err != nil {
				logger.ForUser(userID).Error("failed to store chat log entry; falling back to memory", "error", err)
				stored = false
				break
			}
		}
		// The in-memory copy is the fallback, not a duplicate of the DB.
		if stored {
			return
		}
	}

	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	l.mu.Unlock()
}

// List returns all persisted entries of a user in write order.
func (l *Log) List(userID string) []Entry {
	l.once.Do(l.init)

	if l.initErr == nil && l.db != nil {
		rows, err := l.db.Query(
			`SELECT exchange_id, user_id, seq, role, content, created_at FROM chat_log WHERE user_id = ? ORDER BY id ASC;`,
			userID,
		)
		if err == nil {
			defer rows.Close()
			var out []Entry
			for rows.Next() {
				var e Entry
				if err := rows.Scan(&e.ExchangeID, &e.UserID, &e.Seq, &e.Role, &e.Content, &e.CreatedAt); err == nil {
					out = append(out, e)
				}
			}
			return out
		}
		logger.ForUser(userID).Warn("chat log query failed; reading in-memory copy", "error", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}
