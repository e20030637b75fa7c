package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/config"
	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

const (
	defaultRecentAuditLimit = 100
	maxRecentAuditLimit     = 500
)

type (
	// ReadStore serves the curated data and audit query endpoints. All reads
	// are straight SELECTs against the curated and control tables.
	ReadStore struct {
		conn   *Connection
		logger *slog.Logger
	}

	// RangeFilter narrows list queries. From and To bound the entity's
	// primary date half-open: From inclusive, To exclusive. Nil pointers
	// leave the dimension unconstrained. Limit and Offset page the result.
	RangeFilter struct {
		From     *time.Time
		To       *time.Time
		ArtiID   *int64
		FuenID   *int64
		MuniID   *string
		Producto *int64
		Ciudad   *string
		Limit    int
		Offset   int
	}

	// CiudadRow is one persisted city price observation.
	CiudadRow struct {
		ID             int64      `json:"id"`
		RegID          int64      `json:"regId"`
		Ciudad         *string    `json:"ciudad"`
		CodProducto    int64      `json:"codProducto"`
		Producto       *string    `json:"producto"`
		FechaCaptura   time.Time  `json:"fechaCaptura"`
		FechaCreacion  *time.Time `json:"fechaCreacion"`
		PrecioPromedio *float64   `json:"precioPromedio"`
		Enviado        *bool      `json:"enviado"`
		FechaIngestion time.Time  `json:"fechaIngestion"`
	}

	// ParcialRow is one persisted partial market observation.
	ParcialRow struct {
		ID             int64      `json:"id"`
		MuniID         *string    `json:"muniId"`
		MuniNombre     *string    `json:"muniNombre"`
		DeptNombre     *string    `json:"deptNombre"`
		FuenID         *int64     `json:"fuenId"`
		FuenNombre     *string    `json:"fuenNombre"`
		FutiID         *int64     `json:"futiId"`
		IDArtiSemana   *int64     `json:"idArtiSemana"`
		ArtiNombre     *string    `json:"artiNombre"`
		GrupNombre     *string    `json:"grupNombre"`
		EnmaFecha      *time.Time `json:"enmaFecha"`
		PromedioKg     *float64   `json:"promedioKg"`
		MaximoKg       *float64   `json:"maximoKg"`
		MinimoKg       *float64   `json:"minimoKg"`
		FechaIngestion time.Time  `json:"fechaIngestion"`
	}

	// MayoristaRow is one persisted wholesale observation, weekly or monthly;
	// Fecha carries fecha_ini or fecha_mes_ini respectively.
	MayoristaRow struct {
		ID             int64      `json:"id"`
		TmpID          *int64     `json:"tmpId"`
		ArtiID         *int64     `json:"artiId"`
		ArtiNombre     *string    `json:"artiNombre"`
		FuenID         *int64     `json:"fuenId"`
		FuenNombre     *string    `json:"fuenNombre"`
		FutiID         *int64     `json:"futiId"`
		Fecha          *time.Time `json:"fecha"`
		MinimoKg       *float64   `json:"minimoKg"`
		MaximoKg       *float64   `json:"maximoKg"`
		PromedioKg     *float64   `json:"promedioKg"`
		Enviado        *bool      `json:"enviado"`
		FechaIngestion time.Time  `json:"fechaIngestion"`
	}

	// AbastecimientoRow is one persisted monthly supply observation.
	AbastecimientoRow struct {
		ID             int64      `json:"id"`
		TmpID          *int64     `json:"tmpId"`
		ArtiID         *int64     `json:"artiId"`
		ArtiNombre     *string    `json:"artiNombre"`
		FuenID         *int64     `json:"fuenId"`
		FuenNombre     *string    `json:"fuenNombre"`
		FutiID         *int64     `json:"futiId"`
		FechaMes       *time.Time `json:"fechaMes"`
		CantidadTon    *float64   `json:"cantidadTon"`
		FechaCreacion  *time.Time `json:"fechaCreacion"`
		Enviado        *bool      `json:"enviado"`
		FechaIngestion time.Time  `json:"fechaIngestion"`
	}

	// RunRow is the full control-plane view of one ingestion run.
	RunRow struct {
		ID              int64      `json:"id"`
		Method          string     `json:"method"`
		WindowKey       string     `json:"windowKey"`
		Status          string     `json:"status"`
		RequestID       string     `json:"requestId"`
		Source          string     `json:"requestSource"`
		Forced          bool       `json:"forced"`
		StartTime       time.Time  `json:"startTime"`
		EndTime         *time.Time `json:"endTime"`
		RecordsSeen     int        `json:"recordsSeen"`
		RecordsInserted int        `json:"recordsInserted"`
		RecordsUpdated  int        `json:"recordsUpdated"`
		RecordsRejected int        `json:"recordsRejected"`
		ErrorMessage    *string    `json:"errorMessage"`
		ErrorHTTPStatus *int       `json:"errorHttpStatus"`
		ErrorFaultCode  *string    `json:"errorFaultCode"`
	}
)

// NewReadStore creates a PostgreSQL-backed read store.
func NewReadStore(conn *Connection) (*ReadStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ReadStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// HealthCheck delegates to the underlying connection.
func (s *ReadStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// whereClause assembles the filter into SQL. dateColumn is the entity's
// primary date; returned args are positional starting at $1.
func (f *RangeFilter) whereClause(dateColumn string) (string, []any) {
	var (
		clauses []string
		args    []any
	)

	add := func(condition string, value any) {
		args = append(args, value)
		clauses = append(clauses, condition+" $"+strconv.Itoa(len(args)))
	}

	if f.From != nil {
		add(dateColumn+" >=", *f.From)
	}

	if f.To != nil {
		add(dateColumn+" <", *f.To)
	}

	if f.ArtiID != nil {
		add("arti_id =", *f.ArtiID)
	}

	if f.FuenID != nil {
		add("fuen_id =", *f.FuenID)
	}

	if f.MuniID != nil {
		add("muni_id =", *f.MuniID)
	}

	if f.Producto != nil {
		add("cod_producto =", *f.Producto)
	}

	if f.Ciudad != nil {
		add("ciudad =", *f.Ciudad)
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + clauses[0]
		for _, clause := range clauses[1:] {
			where += " AND " + clause
		}
	}

	return where, args
}

func (s *ReadStore) countRows(ctx context.Context, table, where string, args []any) (int, error) {
	var total int

	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", ErrReadStoreFailed, table, err)
	}

	return total, nil
}

// ListCiudad returns city prices matching the filter plus the unpaged total.
func (s *ReadStore) ListCiudad(ctx context.Context, filter RangeFilter) ([]CiudadRow, int, error) {
	where, args := filter.whereClause("fecha_captura")

	total, err := s.countRows(ctx, "sipsa_ciudad", where, args)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, reg_id, ciudad, cod_producto, producto,
		       fecha_captura, fecha_creacion, precio_promedio, enviado, fecha_ingestion
		FROM sipsa_ciudad` + where +
		" ORDER BY fecha_captura DESC, id DESC" + limitOffset(filter, &args)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list city prices: %w", ErrReadStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []CiudadRow

	for rows.Next() {
		var row CiudadRow

		err := rows.Scan(&row.ID, &row.RegID, &row.Ciudad, &row.CodProducto, &row.Producto,
			&row.FechaCaptura, &row.FechaCreacion, &row.PrecioPromedio, &row.Enviado, &row.FechaIngestion)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: scan city price: %w", ErrReadStoreFailed, err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: list city prices: %w", ErrReadStoreFailed, err)
	}

	return result, total, nil
}

// ListParcial returns partial market rows matching the filter plus the total.
func (s *ReadStore) ListParcial(ctx context.Context, filter RangeFilter) ([]ParcialRow, int, error) {
	where, args := filter.whereClause("enma_fecha")

	total, err := s.countRows(ctx, "sipsa_parcial", where, args)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, muni_id, muni_nombre, dept_nombre,
		       fuen_id, fuen_nombre, futi_id,
		       id_arti_semana, arti_nombre, grup_nombre,
		       enma_fecha, promedio_kg, maximo_kg, minimo_kg, fecha_ingestion
		FROM sipsa_parcial` + where +
		" ORDER BY enma_fecha DESC, id DESC" + limitOffset(filter, &args)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list partial market rows: %w", ErrReadStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []ParcialRow

	for rows.Next() {
		var row ParcialRow

		err := rows.Scan(&row.ID, &row.MuniID, &row.MuniNombre, &row.DeptNombre,
			&row.FuenID, &row.FuenNombre, &row.FutiID,
			&row.IDArtiSemana, &row.ArtiNombre, &row.GrupNombre,
			&row.EnmaFecha, &row.PromedioKg, &row.MaximoKg, &row.MinimoKg, &row.FechaIngestion)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: scan partial market row: %w", ErrReadStoreFailed, err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: list partial market rows: %w", ErrReadStoreFailed, err)
	}

	return result, total, nil
}

// ListMayoristasSemanal returns weekly wholesale rows matching the filter.
func (s *ReadStore) ListMayoristasSemanal(ctx context.Context, filter RangeFilter) ([]MayoristaRow, int, error) {
	return s.listMayoristas(ctx, "sipsa_mayoristas_semanal", "tmp_mayo_sem_id", "fecha_ini", filter)
}

// ListMayoristasMensual returns monthly wholesale rows matching the filter.
func (s *ReadStore) ListMayoristasMensual(ctx context.Context, filter RangeFilter) ([]MayoristaRow, int, error) {
	return s.listMayoristas(ctx, "sipsa_mayoristas_mensual", "tmp_mayo_mes_id", "fecha_mes_ini", filter)
}

func (s *ReadStore) listMayoristas(
	ctx context.Context,
	table, tmpColumn, dateColumn string,
	filter RangeFilter,
) ([]MayoristaRow, int, error) {
	where, args := filter.whereClause(dateColumn)

	total, err := s.countRows(ctx, table, where, args)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, %s, arti_id, arti_nombre,
		       fuen_id, fuen_nombre, futi_id, %s,
		       minimo_kg, maximo_kg, promedio_kg, enviado, fecha_ingestion
		FROM %s`, tmpColumn, dateColumn, table) + where +
		fmt.Sprintf(" ORDER BY %s DESC, id DESC", dateColumn) + limitOffset(filter, &args)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list %s: %w", ErrReadStoreFailed, table, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []MayoristaRow

	for rows.Next() {
		var row MayoristaRow

		err := rows.Scan(&row.ID, &row.TmpID, &row.ArtiID, &row.ArtiNombre,
			&row.FuenID, &row.FuenNombre, &row.FutiID, &row.Fecha,
			&row.MinimoKg, &row.MaximoKg, &row.PromedioKg, &row.Enviado, &row.FechaIngestion)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: scan %s row: %w", ErrReadStoreFailed, table, err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: list %s: %w", ErrReadStoreFailed, table, err)
	}

	return result, total, nil
}

// ListAbastecimientos returns monthly supply rows matching the filter.
func (s *ReadStore) ListAbastecimientos(ctx context.Context, filter RangeFilter) ([]AbastecimientoRow, int, error) {
	where, args := filter.whereClause("fecha_mes")

	total, err := s.countRows(ctx, "sipsa_abastecimientos_mensual", where, args)
	if err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, tmp_abas_mes_id, arti_id, arti_nombre,
		       fuen_id, fuen_nombre, futi_id,
		       fecha_mes, cantidad_ton, fecha_creacion, enviado, fecha_ingestion
		FROM sipsa_abastecimientos_mensual` + where +
		" ORDER BY fecha_mes DESC, id DESC" + limitOffset(filter, &args)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list supply rows: %w", ErrReadStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var result []AbastecimientoRow

	for rows.Next() {
		var row AbastecimientoRow

		err := rows.Scan(&row.ID, &row.TmpID, &row.ArtiID, &row.ArtiNombre,
			&row.FuenID, &row.FuenNombre, &row.FutiID,
			&row.FechaMes, &row.CantidadTon, &row.FechaCreacion, &row.Enviado, &row.FechaIngestion)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: scan supply row: %w", ErrReadStoreFailed, err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: list supply rows: %w", ErrReadStoreFailed, err)
	}

	return result, total, nil
}

// GetRun loads the control-plane view of one run.
func (s *ReadStore) GetRun(ctx context.Context, runID int64) (*RunRow, error) {
	var row RunRow

	err := s.conn.QueryRowContext(ctx, `
		SELECT id, method_name, window_key, status, request_id, request_source, forced,
		       start_time, end_time,
		       records_seen, records_inserted, records_updated, records_rejected,
		       error_message, error_http_status, error_fault_code
		FROM ingestion_runs
		WHERE id = $1`,
		runID,
	).Scan(&row.ID, &row.Method, &row.WindowKey, &row.Status, &row.RequestID, &row.Source, &row.Forced,
		&row.StartTime, &row.EndTime,
		&row.RecordsSeen, &row.RecordsInserted, &row.RecordsUpdated, &row.RecordsRejected,
		&row.ErrorMessage, &row.ErrorHTTPStatus, &row.ErrorFaultCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id=%d", ErrRunNotFound, runID)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get run: %w", ErrReadStoreFailed, err)
	}

	return &row, nil
}

// AuditByRequestID returns the audit timeline of one request, oldest first.
func (s *ReadStore) AuditByRequestID(ctx context.Context, requestID string) ([]ingestion.AuditEvent, error) {
	return s.queryAudit(ctx, `
		SELECT id, run_id, request_id, request_source, event_type, message, occurred_at
		FROM ingestion_audit
		WHERE request_id = $1
		ORDER BY occurred_at, id`, requestID)
}

// AuditByRunID returns the audit timeline of one run, oldest first.
func (s *ReadStore) AuditByRunID(ctx context.Context, runID int64) ([]ingestion.AuditEvent, error) {
	return s.queryAudit(ctx, `
		SELECT id, run_id, request_id, request_source, event_type, message, occurred_at
		FROM ingestion_audit
		WHERE run_id = $1
		ORDER BY occurred_at, id`, runID)
}

// RecentAudit returns the newest audit events, newest first. limit is clamped
// to [1, 500] with a default of 100.
func (s *ReadStore) RecentAudit(ctx context.Context, limit int) ([]ingestion.AuditEvent, error) {
	if limit <= 0 {
		limit = defaultRecentAuditLimit
	}

	if limit > maxRecentAuditLimit {
		limit = maxRecentAuditLimit
	}

	return s.queryAudit(ctx, `
		SELECT id, run_id, request_id, request_source, event_type, message, occurred_at
		FROM ingestion_audit
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1`, limit)
}

func (s *ReadStore) queryAudit(ctx context.Context, query string, args ...any) ([]ingestion.AuditEvent, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: audit query: %w", ErrReadStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var events []ingestion.AuditEvent

	for rows.Next() {
		var event ingestion.AuditEvent

		err := rows.Scan(&event.AuditID, &event.RunID, &event.RequestID,
			&event.Source, &event.Type, &event.Message, &event.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan audit event: %w", ErrReadStoreFailed, err)
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: audit query: %w", ErrReadStoreFailed, err)
	}

	return events, nil
}

// limitOffset appends LIMIT/OFFSET as positional parameters.
func limitOffset(filter RangeFilter, args *[]any) string {
	clause := ""

	if filter.Limit > 0 {
		*args = append(*args, filter.Limit)
		clause += " LIMIT $" + strconv.Itoa(len(*args))
	}

	if filter.Offset > 0 {
		*args = append(*args, filter.Offset)
		clause += " OFFSET $" + strconv.Itoa(len(*args))
	}

	return clause
}
