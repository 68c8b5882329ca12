package catalog

import (
	"database/sql"
	"log/slog"

	"cadence/internal/database"
	"cadence/internal/logging"
)

// Store reads and writes catalog records.
type Store struct {
	db     *database.DB
	logger *slog.Logger
}

// New returns a catalog store backed by db.
func New(db *database.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{db: db, logger: logging.NewComponentLogger(logger, "catalog")}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const titleColumns = `id, title, content_type, category, tags_json, metadata_json, channel_id,
    script_mode, media_mode, model, priority, status, created_at, updated_at`

func scanTitle(scanner rowScanner) (*Title, error) {
	var (
		t           Title
		contentType string
		tags        string
		metadata    sql.NullString
		scriptMode  string
		mediaMode   string
		status      string
		createdAt   string
		updatedAt   string
	)
	if err := scanner.Scan(
		&t.ID,
		&t.Title,
		&contentType,
		&t.Category,
		&tags,
		&metadata,
		&t.ChannelID,
		&scriptMode,
		&mediaMode,
		&t.Model,
		&t.Priority,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	meta, err := decodeTitleMetadata(metadata.String)
	if err != nil {
		return nil, err
	}
	t.ContentType = ContentType(contentType)
	t.Tags = decodeTags(tags)
	t.Metadata = meta
	t.ScriptMode = ScriptMode(scriptMode)
	t.MediaMode = MediaMode(mediaMode)
	t.Status = TitleStatus(status)
	t.CreatedAt = database.ParseTime(createdAt)
	t.UpdatedAt = database.ParseTime(updatedAt)
	return &t, nil
}

const scheduleColumns = `id, title_id, scheduled_at, publish_at, visibility, status, run_id, script_ref,
    video_ref, upload_ref, published_url, project_dir, derivative_job_id, parent_url, derivative_state,
    error_message, created_at, updated_at`

func scanSchedule(scanner rowScanner) (*Schedule, error) {
	var (
		s               Schedule
		scheduledAt     string
		publishAt       sql.NullString
		visibility      string
		status          string
		runID           sql.NullString
		scriptRef       sql.NullString
		videoRef        sql.NullString
		uploadRef       sql.NullString
		publishedURL    sql.NullString
		projectDir      sql.NullString
		derivativeJobID sql.NullString
		parentURL       sql.NullString
		derivativeState sql.NullString
		errorMessage    sql.NullString
		createdAt       string
		updatedAt       string
	)
	if err := scanner.Scan(
		&s.ID,
		&s.TitleID,
		&scheduledAt,
		&publishAt,
		&visibility,
		&status,
		&runID,
		&scriptRef,
		&videoRef,
		&uploadRef,
		&publishedURL,
		&projectDir,
		&derivativeJobID,
		&parentURL,
		&derivativeState,
		&errorMessage,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	s.ScheduledAt = database.ParseTime(scheduledAt)
	s.PublishAt = database.TimePtr(publishAt)
	s.Visibility = Visibility(visibility)
	s.Status = ScheduleStatus(status)
	s.RunID = runID.String
	s.ScriptRef = scriptRef.String
	s.VideoRef = videoRef.String
	s.UploadRef = uploadRef.String
	s.PublishedURL = publishedURL.String
	s.ProjectDir = projectDir.String
	s.DerivativeJobID = derivativeJobID.String
	s.ParentURL = parentURL.String
	s.DerivativeState = DerivativeState(derivativeState.String)
	s.ErrorMessage = errorMessage.String
	s.CreatedAt = database.ParseTime(createdAt)
	s.UpdatedAt = database.ParseTime(updatedAt)
	return &s, nil
}

const stageRunColumns = `id, schedule_id, stage, status, error_message, retry_count, started_at, completed_at, created_at`

func scanStageRun(scanner rowScanner) (*StageRun, error) {
	var (
		r           StageRun
		stage       string
		status      string
		errMsg      sql.NullString
		startedAt   sql.NullString
		completedAt sql.NullString
		createdAt   string
	)
	if err := scanner.Scan(&r.ID, &r.ScheduleID, &stage, &status, &errMsg, &r.RetryCount, &startedAt, &completedAt, &createdAt); err != nil {
		return nil, err
	}
	r.Stage = Stage(stage)
	r.Status = StageStatus(status)
	r.ErrorMessage = errMsg.String
	r.StartedAt = database.TimePtr(startedAt)
	r.CompletedAt = database.TimePtr(completedAt)
	r.CreatedAt = database.ParseTime(createdAt)
	return &r, nil
}
