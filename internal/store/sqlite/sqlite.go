package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/roomchat-server/internal/proto"
	"github.com/vovakirdan/roomchat-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id            INTEGER PRIMARY KEY,
	login         TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	is_admin      BOOLEAN NOT NULL DEFAULT 0,
	banned        BOOLEAN NOT NULL DEFAULT 0,
	banned_until  DATETIME,
	created_at    DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS client_rooms (
	client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	room_id   INTEGER NOT NULL,
	PRIMARY KEY (client_id, room_id)
);
CREATE TABLE IF NOT EXISTS client_friends (
	client_id INTEGER NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
	friend_id INTEGER NOT NULL,
	PRIMARY KEY (client_id, friend_id)
);
CREATE TABLE IF NOT EXISTS rooms (
	id         INTEGER PRIMARY KEY,
	admin_id   INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS room_members (
	room_id   INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	client_id INTEGER NOT NULL,
	PRIMARY KEY (room_id, client_id)
);
CREATE TABLE IF NOT EXISTS room_messages (
	room_id    INTEGER NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	text       TEXT NOT NULL DEFAULT '',
	from_id    INTEGER,
	to_id      INTEGER,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (room_id, seq)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New opens the database at dbPath and applies the schema.
// ":memory:" is fine for tests because the pool holds a single connection.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ClientStore implementation ====

// LoadClient retrieves a client with its room and friend sets.
func (s *SQLiteStore) LoadClient(ctx context.Context, id int64) (*store.Client, error) {
	query := `
		SELECT id, login, password_hash, is_admin, banned, banned_until, created_at
		FROM clients
		WHERE id = ?
	`
	var (
		c     store.Client
		until sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Login,
		&c.PasswordHash,
		&c.IsAdmin,
		&c.Banned,
		&until,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("client %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query client: %w", err)
	}
	if until.Valid {
		t := until.Time
		c.BannedUntil = &t
	}

	if c.Rooms, err = s.queryIDs(ctx, `SELECT room_id FROM client_rooms WHERE client_id = ? ORDER BY room_id`, id); err != nil {
		return nil, fmt.Errorf("query client rooms: %w", err)
	}
	if c.Friends, err = s.queryIDs(ctx, `SELECT friend_id FROM client_friends WHERE client_id = ? ORDER BY friend_id`, id); err != nil {
		return nil, fmt.Errorf("query client friends: %w", err)
	}

	return &c, nil
}

// SaveClient replaces the client row and its sets in one transaction.
func (s *SQLiteStore) SaveClient(ctx context.Context, c *store.Client) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var until sql.NullTime
		if c.BannedUntil != nil {
			until = sql.NullTime{Time: *c.BannedUntil, Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO clients (id, login, password_hash, is_admin, banned, banned_until, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				login = excluded.login,
				password_hash = excluded.password_hash,
				is_admin = excluded.is_admin,
				banned = excluded.banned,
				banned_until = excluded.banned_until
		`, c.ID, c.Login, c.PasswordHash, c.IsAdmin, c.Banned, until, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert client: %w", err)
		}

		if err := replaceIDs(ctx, tx, "client_rooms", "client_id", "room_id", c.ID, c.Rooms); err != nil {
			return err
		}
		return replaceIDs(ctx, tx, "client_friends", "client_id", "friend_id", c.ID, c.Friends)
	})
}

// ClientExists checks for a client row.
func (s *SQLiteStore) ClientExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM clients WHERE id = ?)`, id)
}

// ==== RoomStore implementation ====

// LoadRoom retrieves a room with its members and history in arrival order.
func (s *SQLiteStore) LoadRoom(ctx context.Context, id int64) (*store.Room, error) {
	var r store.Room
	err := s.db.QueryRowContext(ctx, `SELECT id, admin_id, created_at FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.AdminID, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	if r.Members, err = s.queryIDs(ctx, `SELECT client_id FROM room_members WHERE room_id = ? ORDER BY client_id`, id); err != nil {
		return nil, fmt.Errorf("query room members: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, text, from_id, to_id, created_at
		FROM room_messages
		WHERE room_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query room messages: %w", err)
	}
	defer rows.Close()

	r.History = []proto.Message{}
	for rows.Next() {
		var (
			m      proto.Message
			fromID sql.NullInt64
			toID   sql.NullInt64
		)
		if err := rows.Scan(&m.Kind, &m.Text, &fromID, &toID, &m.CreationTime); err != nil {
			return nil, fmt.Errorf("scan room message: %w", err)
		}
		if fromID.Valid {
			m.WithFromID(fromID.Int64)
		}
		if toID.Valid {
			m.WithToID(toID.Int64)
		}
		m.WithRoomID(id)
		r.History = append(r.History, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate room messages: %w", err)
	}

	return &r, nil
}

// SaveRoom replaces the room row, members and history in one transaction.
func (s *SQLiteStore) SaveRoom(ctx context.Context, r *store.Room) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rooms (id, admin_id, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET admin_id = excluded.admin_id
		`, r.ID, r.AdminID, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert room: %w", err)
		}

		if err := replaceIDs(ctx, tx, "room_members", "room_id", "client_id", r.ID, r.Members); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM room_messages WHERE room_id = ?`, r.ID); err != nil {
			return fmt.Errorf("clear room messages: %w", err)
		}
		for i, m := range r.History {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO room_messages (room_id, seq, kind, text, from_id, to_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, r.ID, i, string(m.Kind), m.Text, nullID(m.FromID), nullID(m.ToID), m.CreationTime)
			if err != nil {
				return fmt.Errorf("insert room message: %w", err)
			}
		}
		return nil
	})
}

// DeleteRoom removes the room; members and messages cascade.
func (s *SQLiteStore) DeleteRoom(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// RoomExists checks for a room row.
func (s *SQLiteStore) RoomExists(ctx context.Context, id int64) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = ?)`, id)
}

// RoomIDs lists every persisted room.
func (s *SQLiteStore) RoomIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.queryIDs(ctx, `SELECT id FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return ids, nil
}

// ==== helpers ====

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("check exists: %w", err)
	}
	return ok, nil
}

func (s *SQLiteStore) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func replaceIDs(ctx context.Context, tx *sql.Tx, table, ownerCol, valueCol string, owner int64, ids []int64) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, table, ownerCol), owner); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	insert := fmt.Sprintf(`INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)`, table, ownerCol, valueCol)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, insert, owner, id); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return nil
}

func nullID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}
