package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/text/unicode/norm"

	"litecast/internal/models"
)

// PostgresRepository stores the catalogue in Postgres so multiple API
// replicas can share state. It enforces the same plan rules as the JSON
// store; callers switch backends without behavioural differences.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	cfg    PostgresConfig
	logger *slog.Logger
}

// NewPostgresRepository opens a connection pool against the DSN, applies the
// schema, and seeds the built-in plans.
func NewPostgresRepository(dsn string, opts ...Option) (*PostgresRepository, error) {
	cfg := newPostgresConfig(dsn, opts...)
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckInterval > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckInterval
	}
	if cfg.AcquireTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout
	}
	if cfg.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	repo := &PostgresRepository{
		pool:   pool,
		cfg:    cfg,
		logger: slog.Default().With("component", "storage.postgres"),
	}
	if err := repo.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	if err := repo.seedPlans(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

var _ Repository = (*PostgresRepository)(nil)

// Ping verifies the pool can reach the database.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return r.pool.Ping(ctx)
}

// Close releases the connection pool, honouring the context deadline.
func (r *PostgresRepository) Close(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *PostgresRepository) today() string {
	return r.cfg.Clock().Format("2006-01-02")
}

func kindsToStrings(kinds []models.MediaKind) []string {
	out := make([]string, len(kinds))
	for i, kind := range kinds {
		out[i] = string(kind)
	}
	return out
}

func stringsToKinds(raw []string) []models.MediaKind {
	out := make([]models.MediaKind, len(raw))
	for i, kind := range raw {
		out[i] = models.MediaKind(kind)
	}
	return out
}

type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, username, password_hash, role, plan_id, storage_used, usage_seconds, last_usage_reset, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.PlanID,
		&user.StorageUsed, &user.UsageSeconds, &user.LastUsageReset, &user.CreatedAt)
	return user, err
}

const planColumns = `id, name, max_storage_mb, allowed_kinds, daily_limit_hours, max_active_streams, max_destinations, price_text, features_text`

func scanPlan(row rowScanner) (models.Plan, error) {
	var plan models.Plan
	var kinds []string
	err := row.Scan(&plan.ID, &plan.Name, &plan.MaxStorageMB, &kinds, &plan.DailyLimitHours,
		&plan.MaxActiveStreams, &plan.MaxDestinations, &plan.PriceText, &plan.FeaturesText)
	plan.AllowedKinds = stringsToKinds(kinds)
	return plan, err
}

const mediaColumns = `id, owner_id, filename, path, size_bytes, kind, folder_id, created_at`

func scanMediaItem(row rowScanner) (models.MediaItem, error) {
	var item models.MediaItem
	err := row.Scan(&item.ID, &item.OwnerID, &item.Filename, &item.Path, &item.SizeBytes,
		&item.Kind, &item.FolderID, &item.CreatedAt)
	return item, err
}

const folderColumns = `id, owner_id, name, parent_id, created_at`

func scanFolder(row rowScanner) (models.Folder, error) {
	var folder models.Folder
	err := row.Scan(&folder.ID, &folder.OwnerID, &folder.Name, &folder.ParentID, &folder.CreatedAt)
	return folder, err
}

const destinationColumns = `id, owner_id, name, platform, ingest_url, stream_key, active, created_at`

func scanDestination(row rowScanner) (models.Destination, error) {
	var dest models.Destination
	err := row.Scan(&dest.ID, &dest.OwnerID, &dest.Name, &dest.Platform, &dest.IngestURL,
		&dest.StreamKey, &dest.Active, &dest.CreatedAt)
	return dest, err
}

// CreateUser registers a new account with the same validation rules as the
// JSON store.
func (r *PostgresRepository) CreateUser(params CreateUserParams) (models.User, error) {
	username := normalizeUsername(params.Username)
	if username == "" {
		return models.User{}, errors.New("username is required")
	}
	if len(username) < 3 {
		return models.User{}, errors.New("username must be at least 3 characters")
	}
	if len(params.Password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}

	hashed, err := hashPassword(params.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	role := strings.ToLower(strings.TrimSpace(params.Role))
	if role == "" {
		role = "user"
	}
	planID := strings.TrimSpace(params.PlanID)
	if planID == "" {
		planID = DefaultPlanID
	}

	ctx := context.Background()
	if _, ok := r.GetPlan(planID); !ok {
		return models.User{}, fmt.Errorf("plan %s not found", planID)
	}

	id, err := generateID()
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:             id,
		Username:       username,
		PasswordHash:   hashed,
		Role:           role,
		PlanID:         planID,
		LastUsageReset: r.today(),
		CreatedAt:      r.cfg.Clock(),
	}

	tag, err := r.pool.Exec(ctx, `
INSERT INTO users (id, username, password_hash, role, plan_id, storage_used, usage_seconds, last_usage_reset, created_at)
VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)
ON CONFLICT (username) DO NOTHING
`, user.ID, user.Username, user.PasswordHash, user.Role, user.PlanID, user.LastUsageReset, user.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("insert user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.User{}, fmt.Errorf("username %s already in use", username)
	}
	return user, nil
}

// AuthenticateUser checks the credentials against the stored hash. An
// unknown username and a wrong password both return ErrInvalidCredentials.
func (r *PostgresRepository) AuthenticateUser(username, password string) (models.User, error) {
	user, ok := r.FindUserByUsername(username)
	if !ok {
		return models.User{}, ErrInvalidCredentials
	}
	if err := verifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	return user, nil
}

func (r *PostgresRepository) ListUsers() []models.User {
	rows, err := r.pool.Query(context.Background(), `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		r.logger.Warn("list users failed", "error", err)
		return []models.User{}
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			r.logger.Warn("scan user failed", "error", err)
			return []models.User{}
		}
		users = append(users, user)
	}
	return users
}

func (r *PostgresRepository) GetUser(id string) (models.User, bool) {
	row := r.pool.QueryRow(context.Background(), `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if !isNoRows(err) {
			r.logger.Warn("get user failed", "error", err)
		}
		return models.User{}, false
	}
	return user, true
}

// FindUserByUsername looks up a user by their normalised username.
func (r *PostgresRepository) FindUserByUsername(username string) (models.User, bool) {
	row := r.pool.QueryRow(context.Background(), `SELECT `+userColumns+` FROM users WHERE username = $1`, normalizeUsername(username))
	user, err := scanUser(row)
	if err != nil {
		if !isNoRows(err) {
			r.logger.Warn("find user failed", "error", err)
		}
		return models.User{}, false
	}
	return user, true
}

// UpdateUser mutates account metadata.
func (r *PostgresRepository) UpdateUser(id string, update UserUpdate) (models.User, error) {
	user, ok := r.GetUser(id)
	if !ok {
		return models.User{}, fmt.Errorf("user %s not found", id)
	}

	if update.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*update.Role))
		if role == "" {
			return models.User{}, errors.New("role cannot be empty")
		}
		user.Role = role
	}
	if update.PlanID != nil {
		planID := strings.TrimSpace(*update.PlanID)
		if _, ok := r.GetPlan(planID); !ok {
			return models.User{}, fmt.Errorf("plan %s not found", planID)
		}
		user.PlanID = planID
	}

	_, err := r.pool.Exec(context.Background(), `
UPDATE users SET role = $2, plan_id = $3 WHERE id = $1
`, user.ID, user.Role, user.PlanID)
	if err != nil {
		return models.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// SetUserPassword replaces the stored password hash.
func (r *PostgresRepository) SetUserPassword(id, password string) (models.User, error) {
	if len(password) < 8 {
		return models.User{}, errors.New("password must be at least 8 characters")
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}

	row := r.pool.QueryRow(context.Background(), `
UPDATE users SET password_hash = $2 WHERE id = $1
RETURNING `+userColumns, id, hashed)
	user, err := scanUser(row)
	if err != nil {
		if isNoRows(err) {
			return models.User{}, fmt.Errorf("user %s not found", id)
		}
		return models.User{}, fmt.Errorf("set password: %w", err)
	}
	return user, nil
}

// DeleteUser removes the account along with its media records, folders, and
// destinations. Callers are responsible for stopping the user's broadcasts
// and removing uploaded files on disk first.
func (r *PostgresRepository) DeleteUser(id string) error {
	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete user: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM media_items WHERE owner_id = $1`, id); err != nil {
		return fmt.Errorf("delete user media: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM folders WHERE owner_id = $1`, id); err != nil {
		return fmt.Errorf("delete user folders: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM destinations WHERE owner_id = $1`, id); err != nil {
		return fmt.Errorf("delete user destinations: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) ListPlans() []models.Plan {
	rows, err := r.pool.Query(context.Background(), `SELECT `+planColumns+` FROM plans ORDER BY max_storage_mb, id`)
	if err != nil {
		r.logger.Warn("list plans failed", "error", err)
		return []models.Plan{}
	}
	defer rows.Close()

	plans := make([]models.Plan, 0)
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			r.logger.Warn("scan plan failed", "error", err)
			return []models.Plan{}
		}
		plans = append(plans, plan)
	}
	return plans
}

func (r *PostgresRepository) GetPlan(id string) (models.Plan, bool) {
	row := r.pool.QueryRow(context.Background(), `SELECT `+planColumns+` FROM plans WHERE id = $1`, id)
	plan, err := scanPlan(row)
	if err != nil {
		if !isNoRows(err) {
			r.logger.Warn("get plan failed", "error", err)
		}
		return models.Plan{}, false
	}
	return plan, true
}

// PlanForUser resolves the plan governing a user's limits. Administrators are
// exempt from plan limits; they receive an unlimited synthetic plan.
func (r *PostgresRepository) PlanForUser(userID string) (models.Plan, error) {
	user, ok := r.GetUser(userID)
	if !ok {
		return models.Plan{}, fmt.Errorf("user %s not found", userID)
	}
	if user.IsAdmin() {
		return models.Plan{ID: "admin", Name: "Administrator"}, nil
	}
	plan, ok := r.GetPlan(user.PlanID)
	if !ok {
		return models.Plan{}, fmt.Errorf("plan %s not found", user.PlanID)
	}
	return plan, nil
}

// UpdatePlan adjusts a tier's limits. Existing subscribers see the new limits
// immediately.
func (r *PostgresRepository) UpdatePlan(id string, update PlanUpdate) (models.Plan, error) {
	plan, ok := r.GetPlan(id)
	if !ok {
		return models.Plan{}, fmt.Errorf("plan %s not found", id)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Plan{}, fmt.Errorf("plan name cannot be empty")
		}
		plan.Name = name
	}
	if update.MaxStorageMB != nil && *update.MaxStorageMB >= 0 {
		plan.MaxStorageMB = *update.MaxStorageMB
	}
	if update.AllowedKinds != nil {
		plan.AllowedKinds = append([]models.MediaKind(nil), (*update.AllowedKinds)...)
	}
	if update.DailyLimitHours != nil && *update.DailyLimitHours >= 0 {
		plan.DailyLimitHours = *update.DailyLimitHours
	}
	if update.MaxActiveStreams != nil && *update.MaxActiveStreams >= 0 {
		plan.MaxActiveStreams = *update.MaxActiveStreams
	}
	if update.MaxDestinations != nil && *update.MaxDestinations >= 0 {
		plan.MaxDestinations = *update.MaxDestinations
	}
	if update.PriceText != nil {
		plan.PriceText = strings.TrimSpace(*update.PriceText)
	}
	if update.FeaturesText != nil {
		plan.FeaturesText = strings.TrimSpace(*update.FeaturesText)
	}

	_, err := r.pool.Exec(context.Background(), `
UPDATE plans
SET name = $2, max_storage_mb = $3, allowed_kinds = $4, daily_limit_hours = $5,
    max_active_streams = $6, max_destinations = $7, price_text = $8, features_text = $9
WHERE id = $1
`, plan.ID, plan.Name, plan.MaxStorageMB, kindsToStrings(plan.AllowedKinds), plan.DailyLimitHours,
		plan.MaxActiveStreams, plan.MaxDestinations, plan.PriceText, plan.FeaturesText)
	if err != nil {
		return models.Plan{}, fmt.Errorf("update plan: %w", err)
	}
	return plan, nil
}

// CreateMediaItem records an upload after enforcing the owner's plan inside a
// transaction, so concurrent uploads cannot overshoot the storage allowance.
func (r *PostgresRepository) CreateMediaItem(params CreateMediaItemParams) (models.MediaItem, error) {
	filename := strings.TrimSpace(norm.NFC.String(params.Filename))
	if filename == "" {
		return models.MediaItem{}, errors.New("filename is required")
	}
	kind, ok := models.ParseMediaKind(filepath.Ext(filename))
	if !ok {
		return models.MediaItem{}, fmt.Errorf("unsupported file type %q", filepath.Ext(filename))
	}
	if params.SizeBytes < 0 {
		return models.MediaItem{}, errors.New("size cannot be negative")
	}

	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("begin upload: %w", err)
	}
	defer tx.Rollback(ctx)

	var role, planID string
	var storageUsed int64
	row := tx.QueryRow(ctx, `SELECT role, plan_id, storage_used FROM users WHERE id = $1 FOR UPDATE`, params.OwnerID)
	if err := row.Scan(&role, &planID, &storageUsed); err != nil {
		if isNoRows(err) {
			return models.MediaItem{}, fmt.Errorf("user %s not found", params.OwnerID)
		}
		return models.MediaItem{}, fmt.Errorf("lock user: %w", err)
	}

	if !strings.EqualFold(role, "admin") {
		var maxStorageMB int64
		var kinds []string
		row := tx.QueryRow(ctx, `SELECT max_storage_mb, allowed_kinds FROM plans WHERE id = $1`, planID)
		if err := row.Scan(&maxStorageMB, &kinds); err != nil {
			if isNoRows(err) {
				return models.MediaItem{}, fmt.Errorf("plan %s not found", planID)
			}
			return models.MediaItem{}, fmt.Errorf("load plan: %w", err)
		}
		plan := models.Plan{AllowedKinds: stringsToKinds(kinds)}
		if !plan.AllowsKind(kind) {
			return models.MediaItem{}, ErrKindNotAllowed
		}
		if maxStorageMB > 0 && storageUsed+params.SizeBytes > maxStorageMB*1024*1024 {
			return models.MediaItem{}, ErrStorageQuotaExceeded
		}
	}

	if params.FolderID != nil {
		var ownerID string
		row := tx.QueryRow(ctx, `SELECT owner_id FROM folders WHERE id = $1`, *params.FolderID)
		if err := row.Scan(&ownerID); err != nil || ownerID != params.OwnerID {
			return models.MediaItem{}, fmt.Errorf("folder %s not found", *params.FolderID)
		}
	}

	id, err := generateID()
	if err != nil {
		return models.MediaItem{}, err
	}

	item := models.MediaItem{
		ID:        id,
		OwnerID:   params.OwnerID,
		Filename:  filename,
		Path:      params.Path,
		SizeBytes: params.SizeBytes,
		Kind:      kind,
		FolderID:  params.FolderID,
		CreatedAt: r.cfg.Clock(),
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO media_items (id, owner_id, filename, path, size_bytes, kind, folder_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, item.ID, item.OwnerID, item.Filename, item.Path, item.SizeBytes, string(item.Kind), item.FolderID, item.CreatedAt); err != nil {
		return models.MediaItem{}, fmt.Errorf("insert media item: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE users SET storage_used = storage_used + $2 WHERE id = $1`, params.OwnerID, params.SizeBytes); err != nil {
		return models.MediaItem{}, fmt.Errorf("charge storage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.MediaItem{}, fmt.Errorf("commit upload: %w", err)
	}
	return item, nil
}

// ListMediaItems returns the owner's media, optionally scoped to one folder
// (folderID nil lists everything; a pointer to "" lists the root).
func (r *PostgresRepository) ListMediaItems(ownerID string, folderID *string) []models.MediaItem {
	query := `SELECT ` + mediaColumns + ` FROM media_items WHERE owner_id = $1`
	args := []any{ownerID}
	if folderID != nil {
		if *folderID == "" {
			query += ` AND folder_id IS NULL`
		} else {
			query += ` AND folder_id = $2`
			args = append(args, *folderID)
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		r.logger.Warn("list media failed", "error", err)
		return []models.MediaItem{}
	}
	defer rows.Close()

	items := make([]models.MediaItem, 0)
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			r.logger.Warn("scan media item failed", "error", err)
			return []models.MediaItem{}
		}
		items = append(items, item)
	}
	return items
}

func (r *PostgresRepository) GetMediaItem(id string) (models.MediaItem, bool) {
	row := r.pool.QueryRow(context.Background(), `SELECT `+mediaColumns+` FROM media_items WHERE id = $1`, id)
	item, err := scanMediaItem(row)
	if err != nil {
		if !isNoRows(err) {
			r.logger.Warn("get media item failed", "error", err)
		}
		return models.MediaItem{}, false
	}
	return item, true
}

// MoveMediaItem relocates an item into a folder (or the root when folderID is
// nil).
func (r *PostgresRepository) MoveMediaItem(id string, folderID *string) (models.MediaItem, error) {
	item, ok := r.GetMediaItem(id)
	if !ok {
		return models.MediaItem{}, fmt.Errorf("media item %s not found", id)
	}
	if folderID != nil {
		folder, ok := r.GetFolder(*folderID)
		if !ok || folder.OwnerID != item.OwnerID {
			return models.MediaItem{}, fmt.Errorf("folder %s not found", *folderID)
		}
	}

	_, err := r.pool.Exec(context.Background(), `UPDATE media_items SET folder_id = $2 WHERE id = $1`, id, folderID)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("move media item: %w", err)
	}
	item.FolderID = folderID
	return item, nil
}

// DeleteMediaItem removes the record and releases its bytes from the owner's
// storage counter. The caller deletes the file on disk.
func (r *PostgresRepository) DeleteMediaItem(id string) (models.MediaItem, error) {
	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("begin delete media: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `DELETE FROM media_items WHERE id = $1 RETURNING `+mediaColumns, id)
	item, err := scanMediaItem(row)
	if err != nil {
		if isNoRows(err) {
			return models.MediaItem{}, fmt.Errorf("media item %s not found", id)
		}
		return models.MediaItem{}, fmt.Errorf("delete media item: %w", err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE users SET storage_used = GREATEST(storage_used - $2, 0) WHERE id = $1
`, item.OwnerID, item.SizeBytes); err != nil {
		return models.MediaItem{}, fmt.Errorf("release storage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.MediaItem{}, fmt.Errorf("commit delete media: %w", err)
	}
	return item, nil
}

// CreateFolder adds a folder for the owner, optionally nested under a parent.
func (r *PostgresRepository) CreateFolder(ownerID, name string, parentID *string) (models.Folder, error) {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return models.Folder{}, errors.New("folder name is required")
	}

	ctx := context.Background()
	if _, ok := r.GetUser(ownerID); !ok {
		return models.Folder{}, fmt.Errorf("user %s not found", ownerID)
	}
	if parentID != nil {
		parent, ok := r.GetFolder(*parentID)
		if !ok || parent.OwnerID != ownerID {
			return models.Folder{}, fmt.Errorf("folder %s not found", *parentID)
		}
	}

	var exists bool
	row := r.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1 FROM folders
	WHERE owner_id = $1 AND name = $2 AND parent_id IS NOT DISTINCT FROM $3
)`, ownerID, name, parentID)
	if err := row.Scan(&exists); err != nil {
		return models.Folder{}, fmt.Errorf("check folder name: %w", err)
	}
	if exists {
		return models.Folder{}, fmt.Errorf("folder %s already exists", name)
	}

	id, err := generateID()
	if err != nil {
		return models.Folder{}, err
	}

	folder := models.Folder{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		ParentID:  parentID,
		CreatedAt: r.cfg.Clock(),
	}
	if _, err := r.pool.Exec(ctx, `
INSERT INTO folders (id, owner_id, name, parent_id, created_at)
VALUES ($1, $2, $3, $4, $5)
`, folder.ID, folder.OwnerID, folder.Name, folder.ParentID, folder.CreatedAt); err != nil {
		return models.Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return folder, nil
}

func (r *PostgresRepository) ListFolders(ownerID string) []models.Folder {
	rows, err := r.pool.Query(context.Background(), `SELECT `+folderColumns+` FROM folders WHERE owner_id = $1 ORDER BY name, id`, ownerID)
	if err != nil {
		r.logger.Warn("list folders failed", "error", err)
		return []models.Folder{}
	}
	defer rows.Close()

	folders := make([]models.Folder, 0)
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			r.logger.Warn("scan folder failed", "error", err)
			return []models.Folder{}
		}
		folders = append(folders, folder)
	}
	return folders
}

func (r *PostgresRepository) GetFolder(id string) (models.Folder, bool) {
	row := r.pool.QueryRow(context.Background(), `SELECT `+folderColumns+` FROM folders WHERE id = $1`, id)
	folder, err := scanFolder(row)
	if err != nil {
		if !isNoRows(err) {
			r.logger.Warn("get folder failed", "error", err)
		}
		return models.Folder{}, false
	}
	return folder, true
}

// RenameFolder changes a folder's display name.
func (r *PostgresRepository) RenameFolder(id, name string) (models.Folder, error) {
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "" {
		return models.Folder{}, errors.New("folder name is required")
	}

	row := r.pool.QueryRow(context.Background(), `
UPDATE folders SET name = $2 WHERE id = $1
RETURNING `+folderColumns, id, name)
	folder, err := scanFolder(row)
	if err != nil {
		if isNoRows(err) {
			return models.Folder{}, fmt.Errorf("folder %s not found", id)
		}
		return models.Folder{}, fmt.Errorf("rename folder: %w", err)
	}
	return folder, nil
}

// DeleteFolder removes an empty folder. Folders still holding media or child
// folders are rejected with ErrFolderNotEmpty.
func (r *PostgresRepository) DeleteFolder(id string) error {
	ctx := context.Background()

	var holdsContent bool
	row := r.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM media_items WHERE folder_id = $1)
    OR EXISTS (SELECT 1 FROM folders WHERE parent_id = $1)
`, id)
	if err := row.Scan(&holdsContent); err != nil {
		return fmt.Errorf("check folder contents: %w", err)
	}
	if holdsContent {
		return ErrFolderNotEmpty
	}

	tag, err := r.pool.Exec(ctx, `DELETE FROM folders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("folder %s not found", id)
	}
	return nil
}

// CreateDestination adds a broadcast target after validating the ingest URL
// and enforcing the owner's plan destination count. Administrators bypass the
// count limit.
func (r *PostgresRepository) CreateDestination(params CreateDestinationParams) (models.Destination, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return models.Destination{}, errors.New("destination name is required")
	}
	ingestURL, err := validateIngestURL(params.IngestURL)
	if err != nil {
		return models.Destination{}, err
	}
	key := strings.TrimSpace(params.StreamKey)
	if key == "" {
		return models.Destination{}, errors.New("stream key is required")
	}

	ctx := context.Background()
	user, ok := r.GetUser(params.OwnerID)
	if !ok {
		return models.Destination{}, fmt.Errorf("user %s not found", params.OwnerID)
	}
	if !user.IsAdmin() {
		plan, ok := r.GetPlan(user.PlanID)
		if !ok {
			return models.Destination{}, fmt.Errorf("plan %s not found", user.PlanID)
		}
		if plan.MaxDestinations > 0 {
			var owned int
			row := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM destinations WHERE owner_id = $1`, params.OwnerID)
			if err := row.Scan(&owned); err != nil {
				return models.Destination{}, fmt.Errorf("count destinations: %w", err)
			}
			if owned >= plan.MaxDestinations {
				return models.Destination{}, ErrDestinationLimit
			}
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Destination{}, err
	}

	dest := models.Destination{
		ID:        id,
		OwnerID:   params.OwnerID,
		Name:      name,
		Platform:  strings.ToLower(strings.TrimSpace(params.Platform)),
		IngestURL: ingestURL,
		StreamKey: key,
		Active:    true,
		CreatedAt: r.cfg.Clock(),
	}
	if _, err := r.pool.Exec(ctx, `
INSERT INTO destinations (id, owner_id, name, platform, ingest_url, stream_key, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, dest.ID, dest.OwnerID, dest.Name, dest.Platform, dest.IngestURL, dest.StreamKey, dest.Active, dest.CreatedAt); err != nil {
		return models.Destination{}, fmt.Errorf("insert destination: %w", err)
	}
	return dest, nil
}

// ListDestinations returns the owner's destinations ordered by creation time.
func (r *PostgresRepository) ListDestinations(ownerID string) []models.Destination {
	rows, err := r.pool.Query(context.Background(), `SELECT `+destinationColumns+` FROM destinations WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		r.logger.Warn("list destinations failed", "error", err)
		return []models.Destination{}
	}
	defer rows.Close()

	dests := make([]models.Destination, 0)
	for rows.Next() {
		dest, err := scanDestination(rows)
		if err != nil {
			r.logger.Warn("scan destination failed", "error", err)
			return []models.Destination{}
		}
		dests = append(dests, dest)
	}
	return dests
}

func (r *PostgresRepository) GetDestination(id string) (models.Destination, bool) {
	row := r.pool.QueryRow(context.Background(), `SELECT `+destinationColumns+` FROM destinations WHERE id = $1`, id)
	dest, err := scanDestination(row)
	if err != nil {
		if !isNoRows(err) {
			r.logger.Warn("get destination failed", "error", err)
		}
		return models.Destination{}, false
	}
	return dest, true
}

// UpdateDestination mutates a destination, revalidating the ingest URL when
// it changes.
func (r *PostgresRepository) UpdateDestination(id string, update DestinationUpdate) (models.Destination, error) {
	dest, ok := r.GetDestination(id)
	if !ok {
		return models.Destination{}, fmt.Errorf("destination %s not found", id)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return models.Destination{}, errors.New("destination name cannot be empty")
		}
		dest.Name = name
	}
	if update.Platform != nil {
		dest.Platform = strings.ToLower(strings.TrimSpace(*update.Platform))
	}
	if update.IngestURL != nil {
		ingestURL, err := validateIngestURL(*update.IngestURL)
		if err != nil {
			return models.Destination{}, err
		}
		dest.IngestURL = ingestURL
	}
	if update.StreamKey != nil {
		key := strings.TrimSpace(*update.StreamKey)
		if key == "" {
			return models.Destination{}, errors.New("stream key cannot be empty")
		}
		dest.StreamKey = key
	}
	if update.Active != nil {
		dest.Active = *update.Active
	}

	_, err := r.pool.Exec(context.Background(), `
UPDATE destinations
SET name = $2, platform = $3, ingest_url = $4, stream_key = $5, active = $6
WHERE id = $1
`, dest.ID, dest.Name, dest.Platform, dest.IngestURL, dest.StreamKey, dest.Active)
	if err != nil {
		return models.Destination{}, fmt.Errorf("update destination: %w", err)
	}
	return dest, nil
}

// DeleteDestination removes a broadcast target.
func (r *PostgresRepository) DeleteDestination(id string) error {
	tag, err := r.pool.Exec(context.Background(), `DELETE FROM destinations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete destination: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("destination %s not found", id)
	}
	return nil
}

// SyncUsage returns the user's usage counter for the current day, resetting
// it first when the stored counter belongs to an earlier date.
func (r *PostgresRepository) SyncUsage(userID string) (models.UsageCounter, error) {
	today := r.today()
	row := r.pool.QueryRow(context.Background(), `
UPDATE users
SET usage_seconds = CASE WHEN last_usage_reset = $2 THEN usage_seconds ELSE 0 END,
    last_usage_reset = $2
WHERE id = $1
RETURNING usage_seconds
`, userID, today)

	var seconds int64
	if err := row.Scan(&seconds); err != nil {
		if isNoRows(err) {
			return models.UsageCounter{}, fmt.Errorf("user %s not found", userID)
		}
		return models.UsageCounter{}, fmt.Errorf("sync usage: %w", err)
	}
	return models.UsageCounter{UserID: userID, UsageSeconds: seconds, LastReset: today}, nil
}

// AddUsage atomically adds broadcast seconds to the user's daily counter and
// returns the new total. A counter from an earlier date is reset before the
// increment, so a broadcast running across midnight starts the new day from
// the seconds added after the boundary.
func (r *PostgresRepository) AddUsage(ctx context.Context, userID string, seconds int64) (int64, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("usage increment cannot be negative")
	}

	today := r.today()
	row := r.pool.QueryRow(ctx, `
UPDATE users
SET usage_seconds = CASE WHEN last_usage_reset = $2 THEN usage_seconds + $3 ELSE $3 END,
    last_usage_reset = $2
WHERE id = $1
RETURNING usage_seconds
`, userID, today, seconds)

	var total int64
	if err := row.Scan(&total); err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("user %s not found", userID)
		}
		return 0, fmt.Errorf("add usage: %w", err)
	}
	return total, nil
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}
