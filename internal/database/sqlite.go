package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leca/imagevault/internal/model"
	_ "modernc.org/sqlite"
)

// SQLiteDB implements Database backed by SQLite.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) an SQLite database at dsn and runs migrations.
// For in-memory use pass "file::memory:?cache=shared".
func NewSQLiteDB(dsn string) (*SQLiteDB, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	} else if !strings.Contains(dsn, "_journal_mode") {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Images
// ---------------------------------------------------------------------------

const imageColumns = `id, filename, original_filename, file_path, file_size, file_type,
	width, height, description, storage_type, storage_key, blob_fid, url,
	is_processed, process_status, process_error, owner_id, created_at, updated_at`

func (s *SQLiteDB) CreateImage(img *model.Image) error {
	now := time.Now().UTC()
	img.CreatedAt = now
	img.UpdatedAt = now

	res, err := s.db.Exec(`
		INSERT INTO images (filename, original_filename, file_path, file_size, file_type,
			width, height, description, storage_type, storage_key, blob_fid, url,
			is_processed, process_status, process_error, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.Filename, img.OriginalFilename, img.FilePath, img.FileSize, img.FileType,
		img.Width, img.Height, img.Description, string(img.StorageType), img.StorageKey,
		img.BlobFID, img.URL, boolToInt(img.IsProcessed), string(img.ProcessStatus),
		img.ProcessError, img.OwnerID, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	img.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert image id: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetImage(id int64) (*model.Image, error) {
	row := s.db.QueryRow(`SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	return scanImage(row)
}

func (s *SQLiteDB) ListImages(ownerID *int64, offset, limit int) ([]*model.Image, int, error) {
	where := ""
	args := []interface{}{}
	if ownerID != nil {
		where = " WHERE owner_id = ?"
		args = append(args, *ownerID)
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM images`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count images: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := s.db.Query(`SELECT `+imageColumns+` FROM images`+where+`
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close()

	images, err := scanImages(rows)
	if err != nil {
		return nil, 0, err
	}
	return images, total, nil
}

func (s *SQLiteDB) UpdateImage(img *model.Image) error {
	img.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE images SET filename = ?, original_filename = ?, file_path = ?, file_size = ?,
			file_type = ?, width = ?, height = ?, description = ?, storage_type = ?,
			storage_key = ?, blob_fid = ?, url = ?, is_processed = ?, process_status = ?,
			process_error = ?, updated_at = ?
		WHERE id = ?`,
		img.Filename, img.OriginalFilename, img.FilePath, img.FileSize, img.FileType,
		img.Width, img.Height, img.Description, string(img.StorageType), img.StorageKey,
		img.BlobFID, img.URL, boolToInt(img.IsProcessed), string(img.ProcessStatus),
		img.ProcessError, fmtTime(img.UpdatedAt), img.ID,
	)
	if err != nil {
		return fmt.Errorf("update image: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteDB) DeleteImage(id int64) error {
	res, err := s.db.Exec(`DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteDB) CountImages() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&count)
	return count, err
}

// ---------------------------------------------------------------------------
// Thumbnails
// ---------------------------------------------------------------------------

func (s *SQLiteDB) CreateThumbnail(t *model.Thumbnail) error {
	t.CreatedAt = time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO thumbnails (image_id, size, width, height, file_path,
			storage_type, storage_key, blob_fid, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ImageID, string(t.Size), t.Width, t.Height, t.FilePath,
		string(t.StorageType), t.StorageKey, t.BlobFID, t.URL, fmtTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert thumbnail: %w", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert thumbnail id: %w", err)
	}
	return nil
}

func (s *SQLiteDB) ListThumbnails(imageID int64) ([]*model.Thumbnail, error) {
	rows, err := s.db.Query(`
		SELECT id, image_id, size, width, height, file_path,
			storage_type, storage_key, blob_fid, url, created_at
		FROM thumbnails WHERE image_id = ? ORDER BY id ASC`, imageID)
	if err != nil {
		return nil, fmt.Errorf("list thumbnails: %w", err)
	}
	defer rows.Close()

	var thumbs []*model.Thumbnail
	for rows.Next() {
		t := &model.Thumbnail{}
		var sizeStr, storageStr, createdStr string
		if err := rows.Scan(&t.ID, &t.ImageID, &sizeStr, &t.Width, &t.Height, &t.FilePath,
			&storageStr, &t.StorageKey, &t.BlobFID, &t.URL, &createdStr); err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		t.Size = model.ThumbnailSize(sizeStr)
		t.StorageType = model.StorageType(storageStr)
		t.CreatedAt = parseTime(createdStr)
		thumbs = append(thumbs, t)
	}
	return thumbs, rows.Err()
}

func (s *SQLiteDB) DeleteThumbnails(imageID int64) error {
	if _, err := s.db.Exec(`DELETE FROM thumbnails WHERE image_id = ?`, imageID); err != nil {
		return fmt.Errorf("delete thumbnails: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Processing tasks
// ---------------------------------------------------------------------------

const taskColumns = `id, task_id, image_id, task_type, status, params, result, error,
	created_at, updated_at, completed_at`

func (s *SQLiteDB) CreateTask(task *model.ProcessingTask) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	res, err := s.db.Exec(`
		INSERT INTO processing_tasks (task_id, image_id, task_type, status, params,
			result, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.ImageID, string(task.Kind), string(task.Status),
		task.Params, task.Result, task.Error, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert task id: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetTask(id int64) (*model.ProcessingTask, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM processing_tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *SQLiteDB) GetTaskByTaskID(taskID string) (*model.ProcessingTask, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM processing_tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

func (s *SQLiteDB) UpdateTask(task *model.ProcessingTask) error {
	task.UpdatedAt = time.Now().UTC()
	var completed interface{}
	if task.CompletedAt != nil {
		completed = fmtTime(*task.CompletedAt)
	}
	res, err := s.db.Exec(`
		UPDATE processing_tasks SET status = ?, result = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		string(task.Status), task.Result, task.Error, fmtTime(task.UpdatedAt), completed, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return checkRowsAffected(res)
}

// ---------------------------------------------------------------------------
// Upload sessions
// ---------------------------------------------------------------------------

func (s *SQLiteDB) CreateSession(sess *model.UploadSession) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	res, err := s.db.Exec(`
		INSERT INTO upload_sessions (session_id, user_id, total_files, processed_files,
			status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.SessionID, sess.UserID, sess.TotalFiles, sess.ProcessedFiles,
		string(sess.Status), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	sess.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert session id: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetSession(id int64) (*model.UploadSession, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, user_id, total_files, processed_files, status,
			created_at, updated_at, completed_at
		FROM upload_sessions WHERE id = ?`, id)

	sess := &model.UploadSession{}
	var statusStr, createdStr, updatedStr string
	var completedStr sql.NullString
	err := row.Scan(&sess.ID, &sess.SessionID, &sess.UserID, &sess.TotalFiles,
		&sess.ProcessedFiles, &statusStr, &createdStr, &updatedStr, &completedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Status = model.SessionStatus(statusStr)
	sess.CreatedAt = parseTime(createdStr)
	sess.UpdatedAt = parseTime(updatedStr)
	if completedStr.Valid {
		t := parseTime(completedStr.String)
		sess.CompletedAt = &t
	}
	return sess, nil
}

func (s *SQLiteDB) UpdateSession(sess *model.UploadSession) error {
	sess.UpdatedAt = time.Now().UTC()
	var completed interface{}
	if sess.CompletedAt != nil {
		completed = fmtTime(*sess.CompletedAt)
	}
	res, err := s.db.Exec(`
		UPDATE upload_sessions SET processed_files = ?, status = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		sess.ProcessedFiles, string(sess.Status), fmtTime(sess.UpdatedAt), completed, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return checkRowsAffected(res)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func (s *SQLiteDB) CreateUser(u *model.User) error {
	u.CreatedAt = time.Now().UTC()
	res, err := s.db.Exec(`
		INSERT INTO users (username, email, full_name, is_active, is_admin, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.FullName, boolToInt(u.IsActive), boolToInt(u.IsAdmin),
		fmtTime(u.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert user id: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetUser(id int64) (*model.User, error) {
	row := s.db.QueryRow(`
		SELECT id, username, email, full_name, is_active, is_admin, created_at
		FROM users WHERE id = ?`, id)

	u := &model.User{}
	var active, admin int
	var createdStr string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &active, &admin, &createdStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.IsActive = active != 0
	u.IsAdmin = admin != 0
	u.CreatedAt = parseTime(createdStr)
	return u, nil
}

// ---------------------------------------------------------------------------
// Blob-store key -> FID mappings
// ---------------------------------------------------------------------------

func (s *SQLiteDB) PutMapping(key, fid string) error {
	_, err := s.db.Exec(`
		INSERT INTO file_mappings (key, fid, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET fid = excluded.fid`,
		key, fid, fmtTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("put mapping: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetMapping(key string) (string, error) {
	var fid string
	err := s.db.QueryRow(`SELECT fid FROM file_mappings WHERE key = ?`, key).Scan(&fid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get mapping: %w", err)
	}
	return fid, nil
}

func (s *SQLiteDB) DeleteMapping(key string) error {
	if _, err := s.db.Exec(`DELETE FROM file_mappings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanImage(row scannable) (*model.Image, error) {
	img := &model.Image{}
	var storageStr, statusStr, createdStr, updatedStr string
	var processed int

	err := row.Scan(&img.ID, &img.Filename, &img.OriginalFilename, &img.FilePath,
		&img.FileSize, &img.FileType, &img.Width, &img.Height, &img.Description,
		&storageStr, &img.StorageKey, &img.BlobFID, &img.URL,
		&processed, &statusStr, &img.ProcessError, &img.OwnerID, &createdStr, &updatedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan image: %w", err)
	}

	img.StorageType = model.StorageType(storageStr)
	img.ProcessStatus = model.ProcessStatus(statusStr)
	img.IsProcessed = processed != 0
	img.CreatedAt = parseTime(createdStr)
	img.UpdatedAt = parseTime(updatedStr)
	return img, nil
}

func scanImages(rows *sql.Rows) ([]*model.Image, error) {
	var images []*model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func scanTask(row scannable) (*model.ProcessingTask, error) {
	task := &model.ProcessingTask{}
	var kindStr, statusStr, createdStr, updatedStr string
	var completedStr sql.NullString

	err := row.Scan(&task.ID, &task.TaskID, &task.ImageID, &kindStr, &statusStr,
		&task.Params, &task.Result, &task.Error, &createdStr, &updatedStr, &completedStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.Kind = model.TaskKind(kindStr)
	task.Status = model.ProcessStatus(statusStr)
	task.CreatedAt = parseTime(createdStr)
	task.UpdatedAt = parseTime(updatedStr)
	if completedStr.Valid {
		t := parseTime(completedStr.String)
		task.CompletedAt = &t
	}
	return task, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
