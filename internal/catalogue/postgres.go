package catalogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velocols/colprofile/internal/models"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS cols (
  id text PRIMARY KEY,
  name text NOT NULL,
  region text NOT NULL DEFAULT '',
  elevation double precision NOT NULL DEFAULT 0,
  length_km double precision NOT NULL DEFAULT 0,
  avg_gradient double precision NOT NULL DEFAULT 0,
  path jsonb NOT NULL DEFAULT '[]',
  profile jsonb,
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS col_backups (
  name text PRIMARY KEY,
  created_at timestamptz NOT NULL DEFAULT now(),
  col_count integer NOT NULL,
  cols jsonb NOT NULL
);
`

var colColumns = []string{
	"id", "name", "region", "elevation", "length_km", "avg_gradient", "path", "profile", "created_at", "updated_at",
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return NewPostgresWithPool(ctx, pool)
}

// NewPostgresWithPool reuses an existing pool. Close releases it.
func NewPostgresWithPool(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Postgres{db: pool}, nil
}

func scanCol(row pgx.Row) (*models.Col, error) {
	var (
		c           models.Col
		pathJSON    []byte
		profileJSON []byte
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Region, &c.Elevation, &c.Length, &c.AvgGrade,
		&pathJSON, &profileJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(pathJSON, &c.Path); err != nil {
		return nil, fmt.Errorf("decode path of col %s: %w", c.ID, err)
	}
	if len(profileJSON) > 0 {
		var p models.ElevationProfile
		if err := json.Unmarshal(profileJSON, &p); err != nil {
			return nil, fmt.Errorf("decode profile of col %s: %w", c.ID, err)
		}
		c.Profile = &p
	}
	return &c, nil
}

// GetAll returns cols ordered by id.
func (s *Postgres) GetAll(ctx context.Context) ([]models.Col, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM cols ORDER BY id`, strings.Join(colColumns, ",")))
	if err != nil {
		return nil, fmt.Errorf("failed to list cols: %w", err)
	}
	defer rows.Close()

	var cols []models.Col
	for rows.Next() {
		c, err := scanCol(rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, *c)
	}
	return cols, rows.Err()
}

// GetByID implements Store.
func (s *Postgres) GetByID(ctx context.Context, id string) (*models.Col, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM cols WHERE id = $1`, strings.Join(colColumns, ",")), id)
	c, err := scanCol(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("col %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get col %s: %w", id, err)
	}
	return c, nil
}

// UpdateProfile is a single-row UPDATE, atomic by construction.
func (s *Postgres) UpdateProfile(ctx context.Context, id string, profile *models.ElevationProfile) (bool, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return false, fmt.Errorf("encode profile of col %s: %w", id, err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE cols SET profile = $1, updated_at = now() WHERE id = $2`, data, id)
	if err != nil {
		return false, fmt.Errorf("failed to update profile of col %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// PutCols upserts every col inside one transaction.
func (s *Postgres) PutCols(ctx context.Context, cols []models.Col) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmt := fmt.Sprintf(`INSERT INTO cols (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  region = EXCLUDED.region,
  elevation = EXCLUDED.elevation,
  length_km = EXCLUDED.length_km,
  avg_gradient = EXCLUDED.avg_gradient,
  path = EXCLUDED.path,
  profile = EXCLUDED.profile,
  updated_at = EXCLUDED.updated_at`, strings.Join(colColumns, ","))

	for _, c := range cols {
		pathJSON, err := json.Marshal(c.Path)
		if err != nil {
			return fmt.Errorf("encode path of col %s: %w", c.ID, err)
		}
		var profileJSON []byte
		if c.Profile != nil {
			if profileJSON, err = json.Marshal(c.Profile); err != nil {
				return fmt.Errorf("encode profile of col %s: %w", c.ID, err)
			}
		}
		created, updated := c.CreatedAt, c.UpdatedAt
		if created.IsZero() {
			created = time.Now()
		}
		if updated.IsZero() {
			updated = created
		}
		if _, err := tx.Exec(ctx, stmt, c.ID, c.Name, c.Region, c.Elevation, c.Length, c.AvgGrade,
			pathJSON, profileJSON, created, updated); err != nil {
			return fmt.Errorf("upsert col %s: %w", c.ID, err)
		}
	}
	return tx.Commit(ctx)
}

// CreateBackup stores the snapshot as one JSONB document.
func (s *Postgres) CreateBackup(ctx context.Context, name string, cols []models.Col) error {
	data, err := json.Marshal(cols)
	if err != nil {
		return fmt.Errorf("encode backup %s: %w", name, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO col_backups (name, col_count, cols) VALUES ($1, $2, $3)`, name, len(cols), data)
	if err != nil {
		return fmt.Errorf("failed to create backup %s: %w", name, err)
	}
	return nil
}

// ListBackups returns backups newest first.
func (s *Postgres) ListBackups(ctx context.Context) ([]models.BackupInfo, error) {
	rows, err := s.db.Query(ctx, `SELECT name, created_at, col_count FROM col_backups ORDER BY created_at DESC, name DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var infos []models.BackupInfo
	for rows.Next() {
		info := models.BackupInfo{Location: "postgres"}
		if err := rows.Scan(&info.Name, &info.CreatedAt, &info.ColCount); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// LoadBackup implements Store.
func (s *Postgres) LoadBackup(ctx context.Context, name string) (*models.Snapshot, error) {
	snap := models.Snapshot{Name: name}
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT created_at, cols FROM col_backups WHERE name = $1`, name).Scan(&snap.CreatedAt, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("backup %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup %s: %w", name, err)
	}
	if err := json.Unmarshal(data, &snap.Cols); err != nil {
		return nil, fmt.Errorf("decode backup %s: %w", name, err)
	}
	return &snap, nil
}

// Close releases the pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}
