package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"curator/internal/config"
	"curator/internal/services"
)

// Store manages catalog persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the catalog database and applies
// migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "catalog.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:   db,
		path: dbPath,
		now:  func() time.Time { return time.Now().UTC() },
	}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetClock overrides the store's time source (used in tests).
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateEntity inserts a new entity and assigns its identifier.
func (s *Store) CreateEntity(ctx context.Context, entity *Entity) error {
	if entity == nil {
		return services.Wrap(services.ErrValidation, "catalog", "create entity", "entity is required", nil)
	}
	if entity.MediaPath == "" || entity.MediaFilename == "" {
		return services.Wrap(services.ErrValidation, "catalog", "create entity", "media path and filename are required", nil)
	}
	if _, ok := ParseEntityType(string(entity.EntityType)); !ok {
		return services.Wrap(services.ErrValidation, "catalog", "create entity", fmt.Sprintf("unknown entity type %q", entity.EntityType), nil)
	}

	now := s.now()
	locked, err := encodeLockedFields(entity.LockedFields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO entities (entity_type, title, year, media_path, media_filename, primary_file_hash,
             monitored, locked_fields, has_unpublished_changes, last_enriched_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(entity.EntityType),
		entity.Title,
		entity.Year,
		entity.MediaPath,
		entity.MediaFilename,
		nullableString(entity.PrimaryFileHash),
		boolToInt(entity.Monitored),
		locked,
		boolToInt(entity.HasUnpublishedChanges),
		nullableTime(entity.LastEnrichedAt),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	entity.ID = id
	entity.CreatedAt = now
	entity.UpdatedAt = now
	return nil
}

// EntityByID fetches an entity by type and identifier.
func (s *Store) EntityByID(ctx context.Context, entityType EntityType, id int64) (*Entity, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_type = ? AND id = ?`,
		string(entityType),
		id,
	)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return entity, nil
}

// EntityByPath fetches an entity by its media directory path.
func (s *Store) EntityByPath(ctx context.Context, mediaPath string) (*Entity, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+entityColumns+` FROM entities WHERE media_path = ?`,
		mediaPath,
	)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity by path: %w", err)
	}
	return entity, nil
}

// UpsertEntityByPath registers an entity for a media path, returning the
// existing record when one is already tracked. Scans re-run safely.
func (s *Store) UpsertEntityByPath(ctx context.Context, entity *Entity) (created bool, err error) {
	existing, err := s.EntityByPath(ctx, entity.MediaPath)
	if err != nil {
		return false, err
	}
	if existing != nil {
		*entity = *existing
		return false, nil
	}
	if err := s.CreateEntity(ctx, entity); err != nil {
		return false, err
	}
	return true, nil
}

// ListEntities returns all entities, optionally filtered by type.
func (s *Store) ListEntities(ctx context.Context, entityType EntityType) ([]*Entity, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if entityType == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY id ASC`)
	} else {
		rows, err = s.db.QueryContext(
			ctx,
			`SELECT `+entityColumns+` FROM entities WHERE entity_type = ? ORDER BY id ASC`,
			string(entityType),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// SaveEntityFields persists title, year, and hash changes on an entity.
func (s *Store) SaveEntityFields(ctx context.Context, entity *Entity) error {
	if entity == nil || entity.ID == 0 {
		return services.Wrap(services.ErrValidation, "catalog", "save entity", "entity with id is required", nil)
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE entities SET title = ?, year = ?, media_filename = ?, primary_file_hash = ?, updated_at = ?
         WHERE id = ?`,
		entity.Title,
		entity.Year,
		entity.MediaFilename,
		nullableString(entity.PrimaryFileHash),
		s.now().Format(time.RFC3339Nano),
		entity.ID,
	)
	if err != nil {
		return fmt.Errorf("save entity fields: %w", err)
	}
	return nil
}

// SetMonitored toggles automated workflow progression for an entity.
func (s *Store) SetMonitored(ctx context.Context, entityType EntityType, id int64, monitored bool) error {
	return s.updateEntityFlag(ctx, entityType, id, "monitored", boolToInt(monitored))
}

// SetUnpublishedChanges marks or clears the pending-publish flag.
func (s *Store) SetUnpublishedChanges(ctx context.Context, entityType EntityType, id int64, pending bool) error {
	return s.updateEntityFlag(ctx, entityType, id, "has_unpublished_changes", boolToInt(pending))
}

// SetPrimaryFileHash records the content hash of the primary media file.
func (s *Store) SetPrimaryFileHash(ctx context.Context, entityType EntityType, id int64, hash string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE entities SET primary_file_hash = ?, updated_at = ? WHERE entity_type = ? AND id = ?`,
		nullableString(hash),
		s.now().Format(time.RFC3339Nano),
		string(entityType),
		id,
	)
	if err != nil {
		return fmt.Errorf("set primary file hash: %w", err)
	}
	return requireAffected(res, entityType, id, "set primary file hash")
}

// TouchEnriched records when provider results were last fetched.
func (s *Store) TouchEnriched(ctx context.Context, entityType EntityType, id int64, at time.Time) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE entities SET last_enriched_at = ?, updated_at = ? WHERE entity_type = ? AND id = ?`,
		at.UTC().Format(time.RFC3339Nano),
		s.now().Format(time.RFC3339Nano),
		string(entityType),
		id,
	)
	if err != nil {
		return fmt.Errorf("touch enriched: %w", err)
	}
	return requireAffected(res, entityType, id, "touch enriched")
}

// LockField adds a field to the entity's lock set.
func (s *Store) LockField(ctx context.Context, entityType EntityType, id int64, field string) error {
	return s.mutateLockedFields(ctx, entityType, id, func(entity *Entity) {
		entity.addLockedField(field)
	})
}

// UnlockField removes a field from the entity's lock set.
func (s *Store) UnlockField(ctx context.Context, entityType EntityType, id int64, field string) error {
	return s.mutateLockedFields(ctx, entityType, id, func(entity *Entity) {
		entity.removeLockedField(field)
	})
}

func (s *Store) mutateLockedFields(ctx context.Context, entityType EntityType, id int64, mutate func(*Entity)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lock tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(
		ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_type = ? AND id = ?`,
		string(entityType),
		id,
	)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "catalog", "lock field", fmt.Sprintf("entity %s/%d not found", entityType, id), nil)
	}
	if err != nil {
		return fmt.Errorf("load entity for lock update: %w", err)
	}

	mutate(entity)
	locked, err := encodeLockedFields(entity.LockedFields)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE entities SET locked_fields = ?, updated_at = ? WHERE id = ?`,
		locked,
		s.now().Format(time.RFC3339Nano),
		entity.ID,
	); err != nil {
		return fmt.Errorf("update locked fields: %w", err)
	}
	return tx.Commit()
}

func (s *Store) updateEntityFlag(ctx context.Context, entityType EntityType, id int64, column string, value int) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE entities SET `+column+` = ?, updated_at = ? WHERE entity_type = ? AND id = ?`,
		value,
		s.now().Format(time.RFC3339Nano),
		string(entityType),
		id,
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return requireAffected(res, entityType, id, "update "+column)
}

// UpsertCandidate records a provider result, keyed so repeated fetches are
// idempotent. Returns true when a new candidate row was created.
func (s *Store) UpsertCandidate(ctx context.Context, candidate *AssetCandidate) (bool, error) {
	if candidate == nil {
		return false, services.Wrap(services.ErrValidation, "catalog", "upsert candidate", "candidate is required", nil)
	}
	if candidate.EntityID == 0 || candidate.AssetType == "" || candidate.Provider == "" || candidate.URL == "" {
		return false, services.Wrap(services.ErrValidation, "catalog", "upsert candidate", "entity, asset type, provider, and url are required", nil)
	}

	fetchedAt := candidate.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}

	row := s.db.QueryRowContext(
		ctx,
		`SELECT id FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND provider = ? AND url = ?`,
		string(candidate.EntityType),
		candidate.EntityID,
		candidate.AssetType,
		candidate.Provider,
		candidate.URL,
	)
	var existingID int64
	err := row.Scan(&existingID)
	switch {
	case err == nil:
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE asset_candidates SET score = ?, width = ?, height = ?, language = ?, fetched_at = ?
             WHERE id = ?`,
			candidate.Score,
			candidate.Width,
			candidate.Height,
			nullableString(candidate.Language),
			fetchedAt.Format(time.RFC3339Nano),
			existingID,
		)
		if err != nil {
			return false, fmt.Errorf("refresh candidate: %w", err)
		}
		candidate.ID = existingID
		candidate.FetchedAt = fetchedAt
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(
			ctx,
			`INSERT INTO asset_candidates (entity_type, entity_id, asset_type, provider, url, score,
                 width, height, language, is_selected, is_downloaded, content_hash, fetched_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, ?)`,
			string(candidate.EntityType),
			candidate.EntityID,
			candidate.AssetType,
			candidate.Provider,
			candidate.URL,
			candidate.Score,
			candidate.Width,
			candidate.Height,
			nullableString(candidate.Language),
			fetchedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return false, fmt.Errorf("insert candidate: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return false, fmt.Errorf("last insert id: %w", err)
		}
		candidate.ID = id
		candidate.FetchedAt = fetchedAt
		return true, nil
	default:
		return false, fmt.Errorf("find candidate: %w", err)
	}
}

// CandidateByID fetches a candidate by identifier.
func (s *Store) CandidateByID(ctx context.Context, id int64) (*AssetCandidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM asset_candidates WHERE id = ?`, id)
	candidate, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return candidate, nil
}

// ListCandidates returns candidates for an entity, optionally filtered by
// asset type, best score first.
func (s *Store) ListCandidates(ctx context.Context, entityType EntityType, entityID int64, assetType string) ([]*AssetCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM asset_candidates WHERE entity_type = ? AND entity_id = ?`
	args := []any{string(entityType), entityID}
	if assetType != "" {
		query += ` AND asset_type = ?`
		args = append(args, assetType)
	}
	query += ` ORDER BY score DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*AssetCandidate
	for rows.Next() {
		candidate, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}
	return candidates, rows.Err()
}

// SelectedCandidates returns the current selection per asset type.
func (s *Store) SelectedCandidates(ctx context.Context, entityType EntityType, entityID int64) ([]*AssetCandidate, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+candidateColumns+` FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND is_selected = 1
         ORDER BY asset_type ASC`,
		string(entityType),
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list selected candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*AssetCandidate
	for rows.Next() {
		candidate, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate)
	}
	return candidates, rows.Err()
}

// SelectCandidate marks one candidate as the active choice for its asset
// type, clearing any previous selection in the same transaction.
func (s *Store) SelectCandidate(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin select tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM asset_candidates WHERE id = ?`, id)
	candidate, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "catalog", "select candidate", fmt.Sprintf("candidate %d not found", id), nil)
	}
	if err != nil {
		return fmt.Errorf("load candidate: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE asset_candidates SET is_selected = 0
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND is_selected = 1`,
		string(candidate.EntityType),
		candidate.EntityID,
		candidate.AssetType,
	); err != nil {
		return fmt.Errorf("clear previous selection: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE asset_candidates SET is_selected = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("mark candidate selected: %w", err)
	}
	return tx.Commit()
}

// ClearSelection unselects whatever candidate currently holds an asset type.
func (s *Store) ClearSelection(ctx context.Context, entityType EntityType, entityID int64, assetType string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE asset_candidates SET is_selected = 0
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ?`,
		string(entityType),
		entityID,
		assetType,
	)
	if err != nil {
		return fmt.Errorf("clear selection: %w", err)
	}
	return nil
}

// MarkCandidateDownloaded links a candidate to the cached content it
// resolved to.
func (s *Store) MarkCandidateDownloaded(ctx context.Context, id int64, contentHash string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE asset_candidates SET is_downloaded = 1, content_hash = ? WHERE id = ?`,
		contentHash,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark candidate downloaded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "catalog", "mark downloaded", fmt.Sprintf("candidate %d not found", id), nil)
	}
	return nil
}

// DeleteCandidate removes one candidate row.
func (s *Store) DeleteCandidate(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM asset_candidates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	return nil
}

// DeleteCandidates removes every candidate for an entity's asset type,
// returning the content hashes of downloaded candidates so the caller can
// release cache references.
func (s *Store) DeleteCandidates(ctx context.Context, entityType EntityType, entityID int64, assetType string) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT content_hash FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND content_hash IS NOT NULL`,
		string(entityType),
		entityID,
		assetType,
	)
	if err != nil {
		return nil, fmt.Errorf("collect candidate hashes: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			rows.Close()
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM asset_candidates WHERE entity_type = ? AND entity_id = ? AND asset_type = ?`,
		string(entityType),
		entityID,
		assetType,
	); err != nil {
		return nil, fmt.Errorf("delete candidates: %w", err)
	}
	sort.Strings(hashes)
	return hashes, nil
}

// RecordLibraryFile upserts the projection record for a published file.
func (s *Store) RecordLibraryFile(ctx context.Context, file *LibraryFile) error {
	if file == nil || file.FilePath == "" || file.ContentHash == "" {
		return services.Wrap(services.ErrValidation, "catalog", "record library file", "file path and content hash are required", nil)
	}
	publishedAt := file.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = s.now()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO library_files (entity_type, entity_id, asset_type, file_path, content_hash, published_at)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(file_path) DO UPDATE SET
             entity_type = excluded.entity_type,
             entity_id = excluded.entity_id,
             asset_type = excluded.asset_type,
             content_hash = excluded.content_hash,
             published_at = excluded.published_at`,
		string(file.EntityType),
		file.EntityID,
		file.AssetType,
		file.FilePath,
		file.ContentHash,
		publishedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record library file: %w", err)
	}
	file.PublishedAt = publishedAt
	return nil
}

// ListLibraryFiles returns the projection records for an entity.
func (s *Store) ListLibraryFiles(ctx context.Context, entityType EntityType, entityID int64) ([]*LibraryFile, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, entity_type, entity_id, asset_type, file_path, content_hash, published_at
         FROM library_files WHERE entity_type = ? AND entity_id = ? ORDER BY file_path ASC`,
		string(entityType),
		entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list library files: %w", err)
	}
	defer rows.Close()

	var files []*LibraryFile
	for rows.Next() {
		var (
			file         LibraryFile
			entityTypeS  string
			publishedRaw string
		)
		if err := rows.Scan(&file.ID, &entityTypeS, &file.EntityID, &file.AssetType, &file.FilePath, &file.ContentHash, &publishedRaw); err != nil {
			return nil, err
		}
		file.EntityType = EntityType(entityTypeS)
		if published, err := parseTimeString(publishedRaw); err == nil {
			file.PublishedAt = published
		}
		files = append(files, &file)
	}
	return files, rows.Err()
}

// RemoveLibraryFile deletes the projection record for a path.
func (s *Store) RemoveLibraryFile(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM library_files WHERE file_path = ?`, path); err != nil {
		return fmt.Errorf("remove library file: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, entityType EntityType, id int64, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "catalog", op, fmt.Sprintf("entity %s/%d not found", entityType, id), nil)
	}
	return nil
}

const entityColumns = "id, entity_type, title, year, media_path, media_filename, primary_file_hash, monitored, locked_fields, has_unpublished_changes, last_enriched_at, created_at, updated_at"

func scanEntity(scanner interface{ Scan(dest ...any) error }) (*Entity, error) {
	var (
		id          int64
		entityTypeS string
		title       string
		year        int
		mediaPath   string
		mediaFile   string
		primaryHash sql.NullString
		monitored   int
		lockedRaw   string
		unpublished int
		enrichedRaw sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&id,
		&entityTypeS,
		&title,
		&year,
		&mediaPath,
		&mediaFile,
		&primaryHash,
		&monitored,
		&lockedRaw,
		&unpublished,
		&enrichedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	entity := &Entity{
		ID:                    id,
		EntityType:            EntityType(entityTypeS),
		Title:                 title,
		Year:                  year,
		MediaPath:             mediaPath,
		MediaFilename:         mediaFile,
		PrimaryFileHash:       primaryHash.String,
		Monitored:             monitored != 0,
		HasUnpublishedChanges: unpublished != 0,
	}
	if lockedRaw != "" {
		if err := json.Unmarshal([]byte(lockedRaw), &entity.LockedFields); err != nil {
			return nil, fmt.Errorf("decode locked fields: %w", err)
		}
	}
	if enrichedRaw.Valid {
		if enriched, err := parseTimeString(enrichedRaw.String); err == nil {
			entity.LastEnrichedAt = &enriched
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		entity.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		entity.UpdatedAt = updated
	}
	return entity, nil
}

const candidateColumns = "id, entity_type, entity_id, asset_type, provider, url, score, width, height, language, is_selected, is_downloaded, content_hash, fetched_at"

func scanCandidate(scanner interface{ Scan(dest ...any) error }) (*AssetCandidate, error) {
	var (
		id          int64
		entityTypeS string
		entityID    int64
		assetType   string
		provider    string
		url         string
		score       float64
		width       int
		height      int
		language    sql.NullString
		isSelected  int
		downloaded  int
		contentHash sql.NullString
		fetchedRaw  string
	)
	if err := scanner.Scan(
		&id,
		&entityTypeS,
		&entityID,
		&assetType,
		&provider,
		&url,
		&score,
		&width,
		&height,
		&language,
		&isSelected,
		&downloaded,
		&contentHash,
		&fetchedRaw,
	); err != nil {
		return nil, err
	}

	candidate := &AssetCandidate{
		ID:           id,
		EntityType:   EntityType(entityTypeS),
		EntityID:     entityID,
		AssetType:    assetType,
		Provider:     provider,
		URL:          url,
		Score:        score,
		Width:        width,
		Height:       height,
		Language:     language.String,
		IsSelected:   isSelected != 0,
		IsDownloaded: downloaded != 0,
		ContentHash:  contentHash.String,
	}
	if fetched, err := parseTimeString(fetchedRaw); err == nil {
		candidate.FetchedAt = fetched
	}
	return candidate, nil
}

func encodeLockedFields(fields []string) (string, error) {
	if fields == nil {
		fields = []string{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode locked fields: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
