package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureUserBySubject finds or creates the user row for an externally
// verified identity subject. Identity verification itself happens upstream;
// this layer only records the mapping.
func (s *PostgresStore) EnsureUserBySubject(ctx context.Context, subject, displayName string) (User, error) {
	const findUser = `SELECT id, subject, display_name, created_at FROM users WHERE subject = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, subject).Scan(&user.ID, &user.Subject, &user.DisplayName, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (subject, display_name)
		VALUES ($1, $2)
		ON CONFLICT (subject) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, subject, display_name, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, subject, displayName).Scan(
		&user.ID, &user.Subject, &user.DisplayName, &user.CreatedAt,
	); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subject, display_name, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Subject, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const sceneColumns = `id, owner_id, title, elements, app_state, files, public, COALESCE(thumbnail_key, ''), created_at, updated_at`

func scanScene(row interface{ Scan(...any) error }) (Scene, error) {
	var item Scene
	err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.Title,
		&item.Elements,
		&item.AppState,
		&item.Files,
		&item.Public,
		&item.ThumbnailKey,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func (s *PostgresStore) InsertScene(ctx context.Context, item Scene) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scenes (id, owner_id, title, elements, app_state, files, public)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7)
	`, item.ID, item.OwnerID, item.Title, string(item.Elements), string(item.AppState), string(item.Files), item.Public)
	if err != nil {
		return fmt.Errorf("insert scene: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScene(ctx context.Context, sceneID string) (Scene, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id=$1`, sceneID)
	item, err := scanScene(row)
	if err != nil {
		return Scene{}, err
	}
	return item, nil
}

// UpdateScene writes back a full scene state and advances updated_at. Owner
// and visibility changes ride along; owner_id is intentionally not part of
// this statement — adoption is the only path that sets it.
func (s *PostgresStore) UpdateScene(ctx context.Context, item Scene) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scenes
		SET title=$2, elements=$3::jsonb, app_state=$4::jsonb, files=$5::jsonb, public=$6, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, string(item.Elements), string(item.AppState), string(item.Files), item.Public)
	if err != nil {
		return false, fmt.Errorf("update scene: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update scene rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) UpdateSceneThumbnail(ctx context.Context, sceneID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scenes SET thumbnail_key=$2 WHERE id=$1
	`, sceneID, key)
	if err != nil {
		return fmt.Errorf("update scene thumbnail: %w", err)
	}
	return nil
}

// DeleteScene removes the row entirely; there is no soft-delete state.
func (s *PostgresStore) DeleteScene(ctx context.Context, sceneID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scenes WHERE id=$1`, sceneID)
	if err != nil {
		return false, fmt.Errorf("delete scene: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete scene rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListScenesByOwner(ctx context.Context, ownerID string) ([]Scene, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sceneColumns+`
		FROM scenes
		WHERE owner_id=$1
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list scenes by owner: %w", err)
	}
	defer rows.Close()

	items := make([]Scene, 0)
	for rows.Next() {
		item, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListScenesByIDs(ctx context.Context, sceneIDs []string) ([]Scene, error) {
	if len(sceneIDs) == 0 {
		return []Scene{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sceneColumns+`
		FROM scenes
		WHERE id = ANY($1)
		ORDER BY updated_at DESC
	`, sceneIDs)
	if err != nil {
		return nil, fmt.Errorf("list scenes by ids: %w", err)
	}
	defer rows.Close()

	items := make([]Scene, 0)
	for rows.Next() {
		item, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scenes: %w", err)
	}
	return items, nil
}

// AdoptScenes assigns durable ownership to every listed scene that has no
// owner yet, as a single conditional statement. Scenes already owned by
// anyone are left untouched, so a race between two concurrent logins resolves
// to exactly one winner per scene. Returns the number of rows updated.
func (s *PostgresStore) AdoptScenes(ctx context.Context, sceneIDs []string, ownerID string) (int64, error) {
	if len(sceneIDs) == 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE scenes
		SET owner_id=$1, public=FALSE, updated_at=NOW()
		WHERE id = ANY($2) AND owner_id IS NULL
	`, ownerID, sceneIDs)
	if err != nil {
		return 0, fmt.Errorf("adopt scenes: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("adopt scenes rows: %w", err)
	}
	return affected, nil
}

func (s *PostgresStore) InsertShareLink(ctx context.Context, link ShareLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO share_links (id, token, scene_id, password_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, link.ID, link.Token, link.SceneID, link.PasswordHash, link.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert share link: %w", err)
	}
	return nil
}

// GetShareLinkByToken returns only live links: revoked or expired tokens come
// back as sql.ErrNoRows, indistinguishable from tokens that never existed.
func (s *PostgresStore) GetShareLinkByToken(ctx context.Context, token string) (ShareLink, error) {
	var link ShareLink
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token, scene_id, password_hash, expires_at, access_count, created_at, revoked_at
		FROM share_links
		WHERE token=$1
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, token).Scan(
		&link.ID,
		&link.Token,
		&link.SceneID,
		&link.PasswordHash,
		&link.ExpiresAt,
		&link.AccessCount,
		&link.CreatedAt,
		&link.RevokedAt,
	)
	if err != nil {
		return ShareLink{}, err
	}
	return link, nil
}

func (s *PostgresStore) TouchShareLink(ctx context.Context, linkID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE share_links
		SET access_count=access_count+1, last_accessed_at=NOW()
		WHERE id=$1
	`, linkID)
	if err != nil {
		return fmt.Errorf("touch share link: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeShareLink(ctx context.Context, sceneID, linkID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE share_links
		SET revoked_at=NOW()
		WHERE id=$1 AND scene_id=$2 AND revoked_at IS NULL
	`, linkID, sceneID)
	if err != nil {
		return false, fmt.Errorf("revoke share link: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke share link rows: %w", err)
	}
	return affected > 0, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
