package core

// Query index — a relational projection of the ledger for reads. Derived
// entirely from the block store; dropping the database file and replaying
// the store rebuilds it.

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// User is the indexed view of a registration (with later profile updates
// applied).
type User struct {
	DisplayName string `json:"display_name"`
	Username    string `json:"username"`
	Biography   string `json:"biography"`
	PublicKey   string `json:"public_key"`
}

// Post is the indexed view of a post block, with its author embedded.
type Post struct {
	Hash      string  `json:"hash"`
	Author    User    `json:"author"`
	Body      string  `json:"body"`
	Reply     *string `json:"reply"`
	Timestamp uint64  `json:"timestamp"`
}

// PostDetail is a post hydrated with its reply graph neighbourhood.
type PostDetail struct {
	Post    Post   `json:"post"`
	Replies []Post `json:"replies"`
	ReplyTo *Post  `json:"reply_to"`
}

// Index materializes users and posts from the chain into sqlite.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (or creates) the index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping index: %w", err)
	}

	// sqlite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	idx := &Index{db: db}
	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return idx, nil
}

func (idx *Index) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		hash      TEXT PRIMARY KEY,
		author    TEXT NOT NULL,
		body      TEXT NOT NULL,
		reply     TEXT,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posts_author ON posts (author);
	CREATE INDEX IF NOT EXISTS idx_posts_reply  ON posts (reply);

	CREATE TABLE IF NOT EXISTS users (
		public_key   TEXT PRIMARY KEY,
		username     TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		biography    TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users (username);
	`
	_, err := idx.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// -----------------------------------------------------------------------------
// Projection
// -----------------------------------------------------------------------------

// AddBlock projects a block into the index. Re-inserting an already indexed
// block is a no-op, so store replay is idempotent.
func (idx *Index) AddBlock(b *Block) error {
	switch b.Data.Type {
	case DataPost:
		return idx.indexPost(b)
	case DataUser:
		return idx.indexUser(b)
	case DataUserUpdate:
		return idx.indexUserUpdate(b)
	}
	return nil
}

func (idx *Index) indexPost(b *Block) error {
	_, err := idx.db.Exec(`
		INSERT OR IGNORE INTO posts
		(hash, author, body, reply, timestamp) VALUES
		(?, ?, ?, ?, ?)
	`, b.Hash, b.PublicKey, b.Data.Body, b.Data.Reply, b.Timestamp)
	if err != nil {
		return fmt.Errorf("index post %s: %w", b.Hash, err)
	}
	return nil
}

func (idx *Index) indexUser(b *Block) error {
	_, err := idx.db.Exec(`
		INSERT OR IGNORE INTO users
		(public_key, username, display_name, biography) VALUES
		(?, ?, ?, ?)
	`, b.PublicKey, b.Data.Username, b.Data.DisplayName, b.Data.Biography)
	if err != nil {
		return fmt.Errorf("index user %s: %w", b.Data.Username, err)
	}
	return nil
}

// indexUserUpdate mutates the registered row. An update for an unknown
// public key (stale ordering) is silently discarded.
func (idx *Index) indexUserUpdate(b *Block) error {
	_, err := idx.db.Exec(`
		UPDATE users
		SET display_name = ?, biography = ?
		WHERE public_key = ?
	`, b.Data.DisplayName, b.Data.Biography, b.PublicKey)
	if err != nil {
		return fmt.Errorf("index user update %s: %w", b.PublicKey, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// User queries
// -----------------------------------------------------------------------------

const userColumns = "display_name, username, biography, public_key"

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var bio sql.NullString
	if err := row.Scan(&u.DisplayName, &u.Username, &bio, &u.PublicKey); err != nil {
		return nil, err
	}
	u.Biography = bio.String
	return &u, nil
}

// GetUserByUsername retrieves a user by exact username, or nil.
func (idx *Index) GetUserByUsername(username string) (*User, error) {
	row := idx.db.QueryRow(
		"SELECT "+userColumns+" FROM users WHERE username = ?", username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// GetUserByPublicKey retrieves a user by public key, or nil.
func (idx *Index) GetUserByPublicKey(publicKey string) (*User, error) {
	row := idx.db.QueryRow(
		"SELECT "+userColumns+" FROM users WHERE public_key = ?", publicKey)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by public key: %w", err)
	}
	return u, nil
}

// SearchUsers returns users whose username contains the given substring,
// case-insensitively.
func (idx *Index) SearchUsers(search string) ([]User, error) {
	rows, err := idx.db.Query(
		"SELECT "+userColumns+" FROM users WHERE username LIKE ?",
		"%"+search+"%")
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("search users: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// HasUsername reports whether a username is registered.
func (idx *Index) HasUsername(username string) (bool, error) {
	var one int
	err := idx.db.QueryRow(
		"SELECT 1 FROM users WHERE username = ?", username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has username: %w", err)
	}
	return true, nil
}

// HasPubkey reports whether a public key is registered.
func (idx *Index) HasPubkey(publicKey string) (bool, error) {
	var one int
	err := idx.db.QueryRow(
		"SELECT 1 FROM users WHERE public_key = ?", publicKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has pubkey: %w", err)
	}
	return true, nil
}

// -----------------------------------------------------------------------------
// Post queries
// -----------------------------------------------------------------------------

const postColumns = `
	posts.hash,
	posts.body,
	posts.reply,
	posts.timestamp,
	users.display_name,
	users.username,
	users.biography,
	users.public_key`

func scanPost(row interface{ Scan(...any) error }) (*Post, error) {
	var p Post
	var reply, bio sql.NullString
	var ts int64
	err := row.Scan(
		&p.Hash, &p.Body, &reply, &ts,
		&p.Author.DisplayName, &p.Author.Username, &bio, &p.Author.PublicKey)
	if err != nil {
		return nil, err
	}
	if reply.Valid {
		p.Reply = &reply.String
	}
	p.Author.Biography = bio.String
	p.Timestamp = uint64(ts)
	return &p, nil
}

// GetFeed retrieves posts joined with their authors, newest first. An empty
// username list drops the author filter.
func (idx *Index) GetFeed(usernames []string, limit, offset int) ([]Post, error) {
	query := "SELECT " + postColumns + `
		FROM posts
		JOIN users ON users.public_key = posts.author`
	args := []any{}

	if len(usernames) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(usernames)), ", ")
		query += " WHERE users.username IN (" + placeholders + ")"
		for _, u := range usernames {
			args = append(args, u)
		}
	}
	query += " ORDER BY posts.timestamp DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("get feed: %w", err)
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// GetPost retrieves a post by its block hash, or nil.
func (idx *Index) GetPost(hash string) (*Post, error) {
	row := idx.db.QueryRow("SELECT "+postColumns+`
		FROM posts
		JOIN users ON users.public_key = posts.author
		WHERE posts.hash = ?`, hash)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// GetReplies retrieves the posts that reply to the given post hash.
func (idx *Index) GetReplies(hash string) ([]Post, error) {
	rows, err := idx.db.Query("SELECT "+postColumns+`
		FROM posts
		JOIN users ON users.public_key = posts.author
		WHERE posts.reply = ?`, hash)
	if err != nil {
		return nil, fmt.Errorf("get replies: %w", err)
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("get replies: %w", err)
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// HydratePost attaches a post's replies and, when it is itself a reply, the
// parent post.
func (idx *Index) HydratePost(p Post) (*PostDetail, error) {
	replies, err := idx.GetReplies(p.Hash)
	if err != nil {
		return nil, err
	}
	detail := &PostDetail{Post: p, Replies: replies}
	if p.Reply != nil {
		parent, err := idx.GetPost(*p.Reply)
		if err != nil {
			return nil, err
		}
		detail.ReplyTo = parent
	}
	return detail, nil
}

// HydrateFeed hydrates every post of a feed.
func (idx *Index) HydrateFeed(feed []Post) ([]PostDetail, error) {
	details := make([]PostDetail, 0, len(feed))
	for _, p := range feed {
		d, err := idx.HydratePost(p)
		if err != nil {
			return nil, err
		}
		details = append(details, *d)
	}
	return details, nil
}
