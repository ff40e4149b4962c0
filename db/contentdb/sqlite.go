package contentdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/logger"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY,
		author_id INTEGER NOT NULL DEFAULT 0,
		post_date TEXT NOT NULL DEFAULT '0000-00-00 00:00:00',
		post_date_gmt TEXT NOT NULL DEFAULT '0000-00-00 00:00:00',
		post_modified TEXT NOT NULL DEFAULT '0000-00-00 00:00:00',
		post_modified_gmt TEXT NOT NULL DEFAULT '0000-00-00 00:00:00',
		title TEXT NOT NULL DEFAULT '',
		excerpt TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'publish',
		name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'post',
		mime_type TEXT NOT NULL DEFAULT '',
		parent INTEGER NOT NULL DEFAULT 0,
		menu_order INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		password TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS postmeta (
		post_id INTEGER NOT NULL,
		meta_key TEXT NOT NULL,
		meta_value TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS postmeta_post_id ON postmeta (post_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		login TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		nicename TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS terms (
		id INTEGER PRIMARY KEY,
		taxonomy TEXT NOT NULL,
		slug TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		parent INTEGER NOT NULL DEFAULT 0,
		UNIQUE (taxonomy, slug)
	)`,
	`CREATE TABLE IF NOT EXISTS term_relationships (
		post_id INTEGER NOT NULL,
		term_id INTEGER NOT NULL,
		PRIMARY KEY (post_id, term_id)
	)`,
}

const postColumns = `id, author_id, post_date, post_date_gmt, post_modified, post_modified_gmt,
	title, excerpt, content, status, name, type, mime_type, parent, menu_order, comment_count, password`

// SQLite reads posts from WordPress-like tables.
type SQLite struct {
	db        *sql.DB
	logger    logger.Logger
	postTypes []string
}

// OpenSQLite opens dsn with the modernc driver and creates the tables when
// they are missing. Only posts whose type is in postTypes are counted and
// listed; an empty list means every type.
func OpenSQLite(ctx context.Context, logger logger.Logger, dsn string, postTypes []string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to open content database", "err", err.Error())
		return nil, fmt.Errorf("failed to open content database: %w", err)
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	store := &SQLite{db: db, logger: logger, postTypes: postTypes}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			s.logger.Error("failed to create content schema", "err", err.Error())
			return fmt.Errorf("failed to create content schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) typeFilter() (string, []any) {
	if len(s.postTypes) == 0 {
		return "", nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(s.postTypes)), ",")
	args := make([]any, 0, len(s.postTypes))
	for _, postType := range s.postTypes {
		args = append(args, postType)
	}
	return " WHERE type IN (" + placeholders + ")", args
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	where, args := s.typeFilter()

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM posts"+where, args...).Scan(&count); err != nil {
		s.logger.Error("failed to count posts", "err", err.Error())
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

func (s *SQLite) GetRecords(ctx context.Context, offset int, limit int) ([]*content.Record, error) {
	where, args := s.typeFilter()
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, "SELECT "+postColumns+" FROM posts"+where+" ORDER BY id ASC LIMIT ? OFFSET ?", args...)
	if err != nil {
		s.logger.Error("failed to list posts", "offset", offset, "limit", limit, "err", err.Error())
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var records []*content.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read post: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (s *SQLite) GetRecord(ctx context.Context, id int64) (*content.Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE id = ?", id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %d: %w", id, content.ErrNotFound)
	}
	if err != nil {
		s.logger.Error("failed to get post", "id", id, "err", err.Error())
		return nil, fmt.Errorf("failed to get post %d: %w", id, err)
	}
	return record, nil
}

func (s *SQLite) GetPostStatus(ctx context.Context, id int64) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM posts WHERE id = ?", id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("post %d: %w", id, content.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get post status %d: %w", id, err)
	}
	return status, nil
}

func (s *SQLite) GetMetadata(ctx context.Context, id int64) (map[string][]any, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT meta_key, meta_value FROM postmeta WHERE post_id = ? ORDER BY rowid", id)
	if err != nil {
		s.logger.Error("failed to get post meta", "id", id, "err", err.Error())
		return nil, fmt.Errorf("failed to get post meta %d: %w", id, err)
	}
	defer rows.Close()

	meta := make(map[string][]any)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to read post meta: %w", err)
		}
		if value.Valid {
			meta[key] = append(meta[key], value.String)
		} else {
			meta[key] = append(meta[key], nil)
		}
	}

	return meta, rows.Err()
}

func (s *SQLite) GetTerms(ctx context.Context, record *content.Record, taxonomies []string) (map[string][]content.Term, error) {
	terms := make(map[string][]content.Term)
	if record == nil || len(taxonomies) == 0 {
		return terms, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(taxonomies)), ",")
	args := []any{record.ID}
	for _, taxonomy := range taxonomies {
		args = append(args, taxonomy)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT t.id, t.taxonomy, t.slug, t.name, t.parent
		FROM terms t JOIN term_relationships r ON r.term_id = t.id
		WHERE r.post_id = ? AND t.taxonomy IN (`+placeholders+`)
		ORDER BY t.taxonomy, t.name`, args...)
	if err != nil {
		s.logger.Error("failed to get post terms", "id", record.ID, "err", err.Error())
		return nil, fmt.Errorf("failed to get post terms %d: %w", record.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var term content.Term
		if err := rows.Scan(&term.ID, &term.Taxonomy, &term.Slug, &term.Name, &term.Parent); err != nil {
			return nil, fmt.Errorf("failed to read term: %w", err)
		}
		terms[term.Taxonomy] = append(terms[term.Taxonomy], term)
	}

	return terms, rows.Err()
}

func (s *SQLite) GetAuthor(ctx context.Context, id int64) (*content.Author, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *SQLite) GetUserByLogin(ctx context.Context, login string) (*content.Author, error) {
	return s.getUser(ctx, "login = ?", login)
}

func (s *SQLite) getUser(ctx context.Context, where string, arg any) (*content.Author, error) {
	var author content.Author
	err := s.db.QueryRowContext(ctx, "SELECT id, login, display_name, nicename FROM users WHERE "+where, arg).
		Scan(&author.ID, &author.Login, &author.DisplayName, &author.Nicename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %v: %w", arg, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %v: %w", arg, err)
	}
	return &author, nil
}

func (s *SQLite) GetTermBySlug(ctx context.Context, taxonomy string, slug string) (*content.Term, error) {
	var term content.Term
	err := s.db.QueryRowContext(ctx, "SELECT id, taxonomy, slug, name, parent FROM terms WHERE taxonomy = ? AND slug = ?", taxonomy, slug).
		Scan(&term.ID, &term.Taxonomy, &term.Slug, &term.Name, &term.Parent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("term %s/%s: %w", taxonomy, slug, content.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get term %s/%s: %w", taxonomy, slug, err)
	}
	return &term, nil
}

// SavePost inserts or replaces a post row.
func (s *SQLite) SavePost(ctx context.Context, record *content.Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.AuthorID,
		formatDate(record.Date), formatDate(record.DateGMT), formatDate(record.Modified), formatDate(record.ModifiedGMT),
		record.Title, record.Excerpt, record.Content, record.Status, record.Name, record.Type, record.MimeType,
		record.Parent, record.MenuOrder, record.CommentCount, record.Password,
	)
	if err != nil {
		s.logger.Error("failed to save post", "id", record.ID, "err", err.Error())
		return fmt.Errorf("failed to save post %d: %w", record.ID, err)
	}
	return nil
}

// DeletePost removes a post with its meta and term relationships.
func (s *SQLite) DeletePost(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, statement := range []string{
		"DELETE FROM posts WHERE id = ?",
		"DELETE FROM postmeta WHERE post_id = ?",
		"DELETE FROM term_relationships WHERE post_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, statement, id); err != nil {
			tx.Rollback()
			s.logger.Error("failed to delete post", "id", id, "err", err.Error())
			return fmt.Errorf("failed to delete post %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) AddMeta(ctx context.Context, postID int64, key string, value any) error {
	var stored any
	if value != nil {
		stored = fmt.Sprint(value)
	}
	if _, err := s.db.ExecContext(ctx, "INSERT INTO postmeta (post_id, meta_key, meta_value) VALUES (?, ?, ?)", postID, key, stored); err != nil {
		return fmt.Errorf("failed to add meta %s to post %d: %w", key, postID, err)
	}
	return nil
}

func (s *SQLite) SaveUser(ctx context.Context, author *content.Author) error {
	if _, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO users (id, login, display_name, nicename) VALUES (?, ?, ?, ?)",
		author.ID, author.Login, author.DisplayName, author.Nicename); err != nil {
		return fmt.Errorf("failed to save user %s: %w", author.Login, err)
	}
	return nil
}

func (s *SQLite) SaveTerm(ctx context.Context, term *content.Term) error {
	if _, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO terms (id, taxonomy, slug, name, parent) VALUES (?, ?, ?, ?, ?)",
		term.ID, term.Taxonomy, term.Slug, term.Name, term.Parent); err != nil {
		return fmt.Errorf("failed to save term %s/%s: %w", term.Taxonomy, term.Slug, err)
	}
	return nil
}

func (s *SQLite) AttachTerm(ctx context.Context, postID int64, termID int64) error {
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO term_relationships (post_id, term_id) VALUES (?, ?)", postID, termID); err != nil {
		return fmt.Errorf("failed to attach term %d to post %d: %w", termID, postID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*content.Record, error) {
	var record content.Record
	var date, dateGMT, modified, modifiedGMT string
	if err := row.Scan(
		&record.ID, &record.AuthorID, &date, &dateGMT, &modified, &modifiedGMT,
		&record.Title, &record.Excerpt, &record.Content, &record.Status, &record.Name, &record.Type, &record.MimeType,
		&record.Parent, &record.MenuOrder, &record.CommentCount, &record.Password,
	); err != nil {
		return nil, err
	}
	record.Date = parseDate(date)
	record.DateGMT = parseDate(dateGMT)
	record.Modified = parseDate(modified)
	record.ModifiedGMT = parseDate(modifiedGMT)
	return &record, nil
}
