package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ForgetDistance is the cosine distance below which two contents count
// as the same memory for deletion.
const ForgetDistance = 0.15

const archivalFile = "archival.db"

var categoryClean = regexp.MustCompile(`[^a-z0-9]+`)

// NormaliseCategory folds a raw category label into a table-safe name.
func NormaliseCategory(raw string) string {
	c := categoryClean.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), "_")
	c = strings.Trim(c, "_")
	if c == "" {
		return "general"
	}
	return c
}

// StoreResult reports the outcome of a memorize call.
type StoreResult struct {
	Stored    bool
	Duplicate bool
	ID        string
	Category  string
}

// SearchHit is one archival match, ordered by ascending distance.
type SearchHit struct {
	ID       string
	Category string
	Content  string
	Distance float64
}

// Archival is the sqlite-backed vector store. Each category lives in
// its own table; similarity is brute-force cosine in process, which is
// fine at personal-agent scale (thousands of rows, not millions).
type Archival struct {
	db       *sql.DB
	embedder Embedder
	cmap     *CognitiveMap

	// Writes to one category table are exclusive; reads proceed
	// concurrently under the sqlite connection.
	writeMu sync.Mutex
}

// OpenArchival opens (creating if needed) the archival database in the
// state directory.
func OpenArchival(stateDir string, embedder Embedder) (*Archival, error) {
	db, err := sql.Open("sqlite", filepath.Join(stateDir, archivalFile))
	if err != nil {
		return nil, fmt.Errorf("archival open: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS mem_meta (
		category TEXT PRIMARY KEY,
		model    TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("archival init: %w", err)
	}
	return &Archival{
		db:       db,
		embedder: embedder,
		cmap:     loadCognitiveMap(stateDir),
	}, nil
}

// Close releases the database handle.
func (a *Archival) Close() error { return a.db.Close() }

// Map exposes the category index.
func (a *Archival) Map() *CognitiveMap { return a.cmap }

// Memorize embeds and stores content under a category. Storing the
// exact same content twice is a silent no-op reported as a duplicate.
func (a *Archival) Memorize(ctx context.Context, rawCategory, content string) (StoreResult, error) {
	category := NormaliseCategory(rawCategory)
	content = strings.TrimSpace(content)
	if content == "" {
		return StoreResult{}, fmt.Errorf("memorize: empty content")
	}

	vector, err := a.embedder.Embed(ctx, content)
	if err != nil {
		return StoreResult{}, fmt.Errorf("memorize: %w", err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if err := a.ensureCategory(ctx, category); err != nil {
		return StoreResult{}, err
	}

	hash := contentHash(content)
	var existing string
	err = a.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE content_hash = ?`, tableName(category)), hash).Scan(&existing)
	if err == nil {
		return StoreResult{Stored: false, Duplicate: true, ID: existing, Category: category}, nil
	}
	if err != sql.ErrNoRows {
		return StoreResult{}, fmt.Errorf("memorize: %w", err)
	}

	id := uuid.NewString()
	_, err = a.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, content, content_hash, vector, created_at) VALUES (?, ?, ?, ?, ?)`, tableName(category)),
		id, content, hash, encodeVector(vector), time.Now().UnixMilli())
	if err != nil {
		return StoreResult{}, fmt.Errorf("memorize: %w", err)
	}

	a.cmap.Bump(category, "")
	return StoreResult{Stored: true, ID: id, Category: category}, nil
}

// Search returns up to k nearest contents within one category. A
// category that was never written returns an empty slice, not an error.
func (a *Archival) Search(ctx context.Context, rawCategory, query string, k int) ([]SearchHit, error) {
	category := NormaliseCategory(rawCategory)
	if !a.cmap.Has(category) {
		return []SearchHit{}, nil
	}

	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits, err := a.scan(ctx, category, vector)
	if err != nil {
		return nil, err
	}
	return topK(hits, k), nil
}

// SearchAll fans the query across every mapped category and merges by
// ascending distance.
func (a *Archival) SearchAll(ctx context.Context, query string, k int) ([]SearchHit, error) {
	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var merged []SearchHit
	for _, entry := range a.cmap.Categories() {
		hits, err := a.scan(ctx, entry.Category, vector)
		if err != nil {
			slog.Warn("archival search skipped category", "category", entry.Category, "error", err)
			continue
		}
		merged = append(merged, hits...)
	}
	return topK(merged, k), nil
}

// Forget removes every row within ForgetDistance of contentMatch by
// rebuilding the category table without them. Returns the number of
// rows removed; an emptied category is dropped from the map.
func (a *Archival) Forget(ctx context.Context, rawCategory, contentMatch string) (int, error) {
	category := NormaliseCategory(rawCategory)
	if !a.cmap.Has(category) {
		return 0, nil
	}

	vector, err := a.embedder.Embed(ctx, contentMatch)
	if err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	rows, err := a.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, content, content_hash, vector, created_at FROM %s`, tableName(category)))
	if err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}

	type record struct {
		id, content, hash string
		vec               []byte
		createdAt         int64
	}
	var keep []record
	removed := 0
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.id, &r.content, &r.hash, &r.vec, &r.createdAt); err != nil {
			continue
		}
		if cosineDistance(vector, decodeVector(r.vec)) < ForgetDistance {
			removed++
			continue
		}
		keep = append(keep, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}
	if removed == 0 {
		return 0, nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, tableName(category))); err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}
	if len(keep) > 0 {
		if _, err := tx.ExecContext(ctx, createTableSQL(category)); err != nil {
			return 0, fmt.Errorf("forget: %w", err)
		}
		for _, r := range keep {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %s (id, content, content_hash, vector, created_at) VALUES (?, ?, ?, ?, ?)`, tableName(category)),
				r.id, r.content, r.hash, r.vec, r.createdAt); err != nil {
				return 0, fmt.Errorf("forget: %w", err)
			}
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM mem_meta WHERE category = ?`, category); err != nil {
			return 0, fmt.Errorf("forget: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("forget: %w", err)
	}

	a.cmap.SetCount(category, len(keep))
	slog.Info("archival forget", "category", category, "removed", removed, "kept", len(keep))
	return removed, nil
}

// ensureCategory creates the category table on first write and pins the
// embedding model. A model mismatch is refused: distances across models
// are meaningless, the category has to be rebuilt first.
func (a *Archival) ensureCategory(ctx context.Context, category string) error {
	var model string
	err := a.db.QueryRowContext(ctx, `SELECT model FROM mem_meta WHERE category = ?`, category).Scan(&model)
	switch {
	case err == sql.ErrNoRows:
		if _, err := a.db.ExecContext(ctx, createTableSQL(category)); err != nil {
			return fmt.Errorf("archival: create category %s: %w", category, err)
		}
		if _, err := a.db.ExecContext(ctx, `INSERT INTO mem_meta (category, model) VALUES (?, ?)`, category, a.embedder.ModelID()); err != nil {
			return fmt.Errorf("archival: register category %s: %w", category, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("archival: %w", err)
	}
	if model != a.embedder.ModelID() {
		return fmt.Errorf("archival: category %s was embedded with %s, current model is %s (rebuild required)",
			category, model, a.embedder.ModelID())
	}
	return nil
}

func (a *Archival) scan(ctx context.Context, category string, query []float32) ([]SearchHit, error) {
	rows, err := a.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, content, vector FROM %s`, tableName(category)))
	if err != nil {
		return nil, fmt.Errorf("archival scan %s: %w", category, err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var id, content string
		var vec []byte
		if err := rows.Scan(&id, &content, &vec); err != nil {
			continue
		}
		hits = append(hits, SearchHit{
			ID:       id,
			Category: category,
			Content:  content,
			Distance: cosineDistance(query, decodeVector(vec)),
		})
	}
	return hits, rows.Err()
}

func tableName(category string) string { return "mem_" + category }

func createTableSQL(category string) string {
	return fmt.Sprintf(`CREATE TABLE %s (
		id           TEXT PRIMARY KEY,
		content      TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		vector       BLOB NOT NULL,
		created_at   INTEGER NOT NULL
	)`, tableName(category))
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func topK(hits []SearchHit, k int) []SearchHit {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	if hits == nil {
		hits = []SearchHit{}
	}
	return hits
}

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// cosineDistance is 1 - cosine similarity; 0 is identical direction,
// values near 1 are unrelated.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
