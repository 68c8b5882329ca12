package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/database"
	"cadence/internal/logging"
)

// NewTitle describes a title to create. Empty modes fall back to the
// automation settings defaults.
type NewTitle struct {
	Title       string
	ContentType ContentType
	Category    string
	Tags        []string
	Metadata    *TitleMetadata
	ChannelID   string
	ScriptMode  ScriptMode
	MediaMode   MediaMode
	Model       string
	Priority    int
}

// TitleFilter narrows ListTitles.
type TitleFilter struct {
	Status TitleStatus
	Limit  int
}

// CreateTitle validates and inserts a pending title.
func (s *Store) CreateTitle(ctx context.Context, req NewTitle) (*Title, error) {
	if err := s.fillTitleDefaults(ctx, &req); err != nil {
		return nil, err
	}
	if err := validateNewTitle(req); err != nil {
		return nil, err
	}
	metadata, err := encodeTitleMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	now := database.FormatTime(time.Now())
	res, err := s.db.Exec(ctx,
		`INSERT INTO titles (
            title, content_type, category, tags_json, metadata_json, channel_id,
            script_mode, media_mode, model, priority, status, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(req.Title),
		req.ContentType,
		strings.TrimSpace(req.Category),
		encodeTags(req.Tags),
		metadata,
		strings.TrimSpace(req.ChannelID),
		req.ScriptMode,
		req.MediaMode,
		strings.TrimSpace(req.Model),
		req.Priority,
		TitlePending,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert title: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	s.logger.Info("title created",
		logging.TitleID(id),
		logging.String("content_type", string(req.ContentType)),
		logging.String("media_mode", string(req.MediaMode)),
	)
	return s.GetTitle(ctx, id)
}

func (s *Store) fillTitleDefaults(ctx context.Context, req *NewTitle) error {
	if req.ScriptMode != "" && req.MediaMode != "" {
		return nil
	}
	settings, err := s.LoadSettings(ctx)
	if err != nil {
		return err
	}
	if req.ScriptMode == "" {
		req.ScriptMode = settings.ScriptGenerationMode
	}
	if req.MediaMode == "" {
		req.MediaMode = settings.DefaultMediaMode
	}
	return nil
}

func validateNewTitle(req NewTitle) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title text is required", ErrInvalid)
	}
	if _, err := ParseContentType(string(req.ContentType)); err != nil {
		return err
	}
	if _, err := ParseScriptMode(string(req.ScriptMode)); err != nil {
		return err
	}
	if _, err := ParseMediaMode(string(req.MediaMode)); err != nil {
		return err
	}
	if err := req.Metadata.Validate(); err != nil {
		return err
	}
	if req.Metadata != nil {
		switch {
		case req.ContentType == ContentProduct && req.Metadata.Kind != MetadataProduct:
			return fmt.Errorf("%w: product titles require product metadata", ErrInvalid)
		case req.ContentType == ContentProductInfo && req.Metadata.Kind != MetadataProductInfo:
			return fmt.Errorf("%w: product_info titles require product_info metadata", ErrInvalid)
		}
	}
	return nil
}

// GetTitle returns a title by id.
func (s *Store) GetTitle(ctx context.Context, id int64) (*Title, error) {
	title, err := scanTitle(s.db.QueryRowContext(ctx, `SELECT `+titleColumns+` FROM titles WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("title %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get title: %w", err)
	}
	return title, nil
}

// ListTitles returns titles, highest priority then newest first.
func (s *Store) ListTitles(ctx context.Context, filter TitleFilter) ([]*Title, error) {
	query := `SELECT ` + titleColumns + ` FROM titles`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY priority DESC, created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}
	defer rows.Close()

	var titles []*Title
	for rows.Next() {
		title, err := scanTitle(rows)
		if err != nil {
			return nil, err
		}
		titles = append(titles, title)
	}
	return titles, rows.Err()
}

// UpdateTitleStatus sets a title's lifecycle status.
func (s *Store) UpdateTitleStatus(ctx context.Context, id int64, status TitleStatus) error {
	res, err := s.db.Exec(ctx,
		`UPDATE titles SET status = ?, updated_at = ? WHERE id = ?`,
		status, database.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update title status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("title %d: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateTitle replaces the editable fields of a title. Titles whose schedule
// has been claimed cannot be edited.
func (s *Store) UpdateTitle(ctx context.Context, id int64, req NewTitle) (*Title, error) {
	current, err := s.GetTitle(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Status {
	case TitleProcessing, TitleWaitingForUpload:
		return nil, fmt.Errorf("title %d: %w", id, ErrTitleBusy)
	}
	if err := s.fillTitleDefaults(ctx, &req); err != nil {
		return nil, err
	}
	if err := validateNewTitle(req); err != nil {
		return nil, err
	}
	metadata, err := encodeTitleMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE titles SET title = ?, content_type = ?, category = ?, tags_json = ?, metadata_json = ?,
            channel_id = ?, script_mode = ?, media_mode = ?, model = ?, priority = ?, updated_at = ?
        WHERE id = ? AND status NOT IN (?, ?)`,
		strings.TrimSpace(req.Title),
		req.ContentType,
		strings.TrimSpace(req.Category),
		encodeTags(req.Tags),
		metadata,
		strings.TrimSpace(req.ChannelID),
		req.ScriptMode,
		req.MediaMode,
		strings.TrimSpace(req.Model),
		req.Priority,
		database.FormatTime(time.Now()),
		id,
		TitleProcessing,
		TitleWaitingForUpload,
	); err != nil {
		return nil, fmt.Errorf("update title: %w", err)
	}
	return s.GetTitle(ctx, id)
}
