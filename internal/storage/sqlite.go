// Package storage handles database connections, schema migrations, and the
// player repository using SQLite.
package storage

import (
	"database/sql"
	"time"

	"github.com/craftboard/craftboard/internal/models"
	_ "modernc.org/sqlite" // Driver sqlite
)

// Repository manages the SQLite database connection. It is the single
// persistence collaborator of the engine: find-one, bulk-upsert and
// update-one, all keyed by (username, server_name).
type Repository struct {
	db *sql.DB
}

// New initializes a new SQLite connection, sets connection pool parameters, and runs migrations.
func New(dbPath string) (*Repository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

const playerColumns = `
	username, server_name, is_online,
	ticks, seconds, minutes, hours, days,
	rank, avatar, supporter, join_time, last_seen, created_at, updated_at`

// FindPlayer retrieves one player by username and server name. The
// username column uses NOCASE collation, so lookups match console replies
// regardless of letter case. Returns nil when the player was never
// observed.
func (r *Repository) FindPlayer(username, serverName string) (*models.Player, error) {
	row := r.db.QueryRow(`
		SELECT `+playerColumns+`
		FROM players
		WHERE username = ? AND server_name = ?
	`, username, serverName)

	p, err := scanPlayer(row)
	if err == sql.ErrNoRows {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// ListPlayers retrieves all records of one server in leaderboard order:
// descending play-time seconds, online players first on ties.
func (r *Repository) ListPlayers(serverName string) ([]models.Player, error) {
	rows, err := r.db.Query(`
		SELECT `+playerColumns+`
		FROM players
		WHERE server_name = ?
		ORDER BY seconds DESC, is_online DESC, username ASC
	`, serverName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var players []models.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			continue
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return players, nil
}

// BulkUpsertPlayers writes one poll cycle's reconciled records in a single
// transaction. Conflicts on (username, server_name) update the observed
// fields only: supporter and created_at are deliberately left untouched,
// the former belongs to the donation flow and the latter marks first
// observation.
func (r *Repository) BulkUpsertPlayers(players []models.Player) error {
	if len(players) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO players (
			username, server_name, is_online,
			ticks, seconds, minutes, hours, days,
			rank, avatar, join_time, last_seen, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username, server_name) DO UPDATE SET
			is_online  = excluded.is_online,
			ticks      = excluded.ticks,
			seconds    = excluded.seconds,
			minutes    = excluded.minutes,
			hours      = excluded.hours,
			days       = excluded.days,
			rank       = excluded.rank,
			avatar     = excluded.avatar,
			join_time  = excluded.join_time,
			last_seen  = excluded.last_seen,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range players {
		if _, err := stmt.Exec(
			p.Username, p.ServerName, p.IsOnline,
			p.PlayTime.Ticks, p.PlayTime.Seconds, p.PlayTime.Minutes, p.PlayTime.Hours, p.PlayTime.Days,
			p.Rank.Name, p.Avatar, nullTime(p.JoinTime), nullTime(p.LastSeen), p.CreatedAt, p.UpdatedAt,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SetSupporter flips the supporter flag for one player. This is the
// update-one entry point used by the donation flow; the poll engine never
// writes this column.
func (r *Repository) SetSupporter(username, serverName string, supporter bool) error {
	_, err := r.db.Exec(`
		UPDATE players SET supporter = ?, updated_at = ?
		WHERE username = ? AND server_name = ?
	`, supporter, time.Now().UTC(), username, serverName)

	return err
}

// CountPlayers returns the number of tracked players on one server.
func (r *Repository) CountPlayers(serverName string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM players WHERE server_name = ?`, serverName).Scan(&n)
	return n, err
}

// CountOnline returns the number of currently online players on one server.
func (r *Repository) CountOnline(serverName string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM players WHERE server_name = ? AND is_online = 1`, serverName).Scan(&n)
	return n, err
}

// PruneServer deletes every record of a decommissioned server. Only the
// explicit maintenance command calls this; the engine itself never deletes
// player history.
func (r *Repository) PruneServer(serverName string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM players WHERE server_name = ?`, serverName)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (models.Player, error) {
	var (
		p        models.Player
		joinTime sql.NullTime
		lastSeen sql.NullTime
	)

	err := row.Scan(
		&p.Username, &p.ServerName, &p.IsOnline,
		&p.PlayTime.Ticks, &p.PlayTime.Seconds, &p.PlayTime.Minutes, &p.PlayTime.Hours, &p.PlayTime.Days,
		&p.Rank.Name, &p.Avatar, &p.Supporter, &joinTime, &lastSeen, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return models.Player{}, err
	}

	if joinTime.Valid {
		t := joinTime.Time
		p.JoinTime = &t
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		p.LastSeen = &t
	}

	return p, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
