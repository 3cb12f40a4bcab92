package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/globaltime"
	"lore.fm/arcs/internal/pipeline"
	payloadschema "lore.fm/arcs/schema"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
	maxBodyBytes    = 1 << 20
)

var errArcNotFound = errors.New("arc not found")

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	pool   *db.Pool
	svc    *pipeline.Service
	cfg    pipeline.Config
	logger zerolog.Logger
	opts   Options
}

type arcListFilter struct {
	Partition string
	Query     string
	Page      int
	PageSize  int
}

type arcDetail struct {
	Arc    db.ArcRecord        `json:"arc"`
	Events []db.ArcEventRecord `json:"events"`
}

func NewServer(pool *db.Pool, svc *pipeline.Service, cfg pipeline.Config, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 60 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:   pool,
		svc:    svc,
		cfg:    cfg,
		logger: logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/partitions", s.handlePartitions)
	api.GET("/arcs", s.handleArcs)
	api.GET("/arcs/:arc_uuid", s.handleArcDetail)
	api.POST("/resolve", s.handleResolve)
	api.POST("/consolidate", s.handleConsolidate)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("arcs api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("arcs api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "arcs",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	now := globaltime.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	stats, err := s.pool.QueryEngineStats(c.Request().Context(), dayStart, dayEnd)
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handlePartitions(c echo.Context) error {
	partitions, err := s.pool.ListPartitions(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("query partitions failed")
		return internalError(c, "Failed to load partitions")
	}
	return success(c, map[string]any{
		"items": partitions,
	})
}

func (s *Server) handleArcs(c echo.Context) error {
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	filter := arcListFilter{
		Partition: strings.TrimSpace(c.QueryParam("partition")),
		Query:     strings.TrimSpace(c.QueryParam("q")),
		Page:      page,
		PageSize:  pageSize,
	}

	total, rows, err := s.queryArcList(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query arcs failed")
		return internalError(c, "Failed to load arcs")
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}

	return success(c, map[string]any{
		"items": rows,
		"pagination": map[string]any{
			"page":        page,
			"page_size":   pageSize,
			"total_items": total,
			"total_pages": totalPages,
		},
		"filters": map[string]any{
			"partition": filter.Partition,
			"q":         filter.Query,
		},
	})
}

func (s *Server) handleArcDetail(c echo.Context) error {
	arcUUID := strings.TrimSpace(c.Param("arc_uuid"))
	if arcUUID == "" {
		return failValidation(c, map[string]string{"arc_uuid": "is required"})
	}

	detail, err := s.queryArcDetail(c.Request().Context(), arcUUID)
	if err != nil {
		if errors.Is(err, errArcNotFound) {
			return failNotFound(c, "Arc not found")
		}
		s.logger.Error().Err(err).Str("arc_uuid", arcUUID).Msg("query arc detail failed")
		return internalError(c, "Failed to load arc detail")
	}

	return success(c, detail)
}

func (s *Server) handleResolve(c echo.Context) error {
	threshold, err := parseThresholdParam(c.QueryParam("threshold"))
	if err != nil {
		return failValidation(c, map[string]string{"threshold": err.Error()})
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}

	payload, err := payloadschema.ValidateFragmentPayload(json.RawMessage(body))
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	fragment := pipeline.Fragment{
		PartitionKey: payload.PartitionKey,
		Name:         payload.Name,
		Category:     payload.Category,
		Summary:      payload.Summary,
		KeyPoints:    payload.KeyPoints,
		Perspective:  payload.Perspective,
		SourceID:     payload.SourceID,
		Relevance:    payload.Relevance,
		OccurredAt:   payload.OccurredAtTime(),
	}

	result, err := s.svc.ResolveFragment(c.Request().Context(), fragment, threshold, s.cfg)
	if err != nil {
		s.logger.Error().Err(err).Str("partition", fragment.PartitionKey).Msg("resolve fragment failed")
		return internalError(c, "Failed to resolve fragment")
	}

	status := http.StatusOK
	if result.Outcome == pipeline.ResolveOutcomeCreated {
		status = http.StatusCreated
	}
	return successWithStatus(c, status, result)
}

func (s *Server) handleConsolidate(c echo.Context) error {
	threshold, err := parseThresholdParam(c.QueryParam("threshold"))
	if err != nil {
		return failValidation(c, map[string]string{"threshold": err.Error()})
	}

	dryRun := false
	if raw := strings.TrimSpace(c.QueryParam("dry_run")); raw != "" {
		dryRun, err = strconv.ParseBool(raw)
		if err != nil {
			return failValidation(c, map[string]string{"dry_run": "must be a boolean"})
		}
	}

	report, err := s.svc.Consolidate(c.Request().Context(), pipeline.ConsolidateOptions{
		PartitionKey: strings.TrimSpace(c.QueryParam("partition")),
		Threshold:    threshold,
		DryRun:       dryRun,
		Config:       s.cfg,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("consolidation run failed")
		return internalError(c, "Failed to run consolidation")
	}

	return success(c, report)
}

func (s *Server) queryArcList(ctx context.Context, filter arcListFilter) (int64, []db.ArcRecord, error) {
	search := ""
	if filter.Query != "" {
		search = "%" + filter.Query + "%"
	}

	const countQuery = `
SELECT COUNT(*)
FROM arcs.arcs a
WHERE ($1 = '' OR a.partition_key = $1)
  AND ($2 = '' OR a.display_name ILIKE $2 OR a.slug ILIKE $2)
`
	var total int64
	if err := s.pool.QueryRow(ctx, countQuery, filter.Partition, search).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count arcs: %w", err)
	}

	offset := (filter.Page - 1) * filter.PageSize

	q := `
SELECT
	a.arc_id,
	a.arc_uuid::text,
	a.slug,
	a.display_name,
	a.category,
	a.partition_key,
	a.summary,
	a.key_points,
	a.started_at,
	a.last_updated_at,
	a.event_count,
	a.source_count,
	a.digest_batch_id,
	a.digest_marked_at,
	a.version
FROM arcs.arcs a
WHERE ($1 = '' OR a.partition_key = $1)
  AND ($2 = '' OR a.display_name ILIKE $2 OR a.slug ILIKE $2)
ORDER BY a.last_updated_at DESC, a.arc_id DESC
LIMIT $3
OFFSET $4
`
	rows, err := s.pool.Query(ctx, q, filter.Partition, search, filter.PageSize, offset)
	if err != nil {
		return 0, nil, fmt.Errorf("query arcs: %w", err)
	}
	defer rows.Close()

	items := make([]db.ArcRecord, 0, filter.PageSize)
	for rows.Next() {
		var (
			rec       db.ArcRecord
			keyPoints []byte
		)
		if err := rows.Scan(
			&rec.ArcID,
			&rec.ArcUUID,
			&rec.Slug,
			&rec.DisplayName,
			&rec.Category,
			&rec.PartitionKey,
			&rec.Summary,
			&keyPoints,
			&rec.StartedAt,
			&rec.LastUpdatedAt,
			&rec.EventCount,
			&rec.SourceCount,
			&rec.DigestBatchID,
			&rec.DigestMarkedAt,
			&rec.Version,
		); err != nil {
			return 0, nil, fmt.Errorf("scan arc row: %w", err)
		}
		if len(keyPoints) > 0 {
			if err := json.Unmarshal(keyPoints, &rec.KeyPoints); err != nil {
				return 0, nil, fmt.Errorf("decode key_points for arc_id=%d: %w", rec.ArcID, err)
			}
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("iterate arc rows: %w", err)
	}

	return total, items, nil
}

func (s *Server) queryArcDetail(ctx context.Context, arcUUID string) (*arcDetail, error) {
	const q = `SELECT a.arc_id FROM arcs.arcs a WHERE a.arc_uuid = $1::uuid`

	var arcID int64
	if err := s.pool.QueryRow(ctx, q, arcUUID).Scan(&arcID); err != nil {
		if db.IsNoRows(err) {
			return nil, errArcNotFound
		}
		return nil, fmt.Errorf("query arc by uuid: %w", err)
	}

	arc, found, err := s.pool.GetArc(ctx, arcID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errArcNotFound
	}

	events, err := s.pool.ListArcEvents(ctx, arcID)
	if err != nil {
		return nil, err
	}

	return &arcDetail{
		Arc:    arc,
		Events: events,
	}, nil
}

func parseThresholdParam(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("is required")
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a number")
	}
	if value <= 0 || value > 1 {
		return 0, fmt.Errorf("must be in (0, 1]")
	}
	return value, nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}
