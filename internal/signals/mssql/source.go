// Package mssql implements a signal source backed by SQL Server dynamic
// management views. It feeds the remediation engine the same KPI, blocking,
// and alert telemetry the dashboard collects.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"remedyd/internal/config"
	"remedyd/pkg/models"

	_ "github.com/microsoft/go-mssqldb"
)

const (
	cpuQuery = `SELECT TOP 1
    record.value('(./Record/SchedulerMonitorEvent/SystemHealth/SystemIdle)[1]', 'int') AS system_idle,
    record.value('(./Record/SchedulerMonitorEvent/SystemHealth/ProcessUtilization)[1]', 'int') AS sql_cpu
FROM (
    SELECT CONVERT(xml, record) AS record
    FROM sys.dm_os_ring_buffers
    WHERE ring_buffer_type = N'RING_BUFFER_SCHEDULER_MONITOR' AND record LIKE '%SystemHealth%'
) AS rb
ORDER BY record.value('(./Record/@time)[1]', 'bigint') DESC`

	sessionCountsQuery = `SELECT
    COUNT(*) AS total_sessions,
    SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END) AS running_sessions
FROM sys.dm_exec_sessions
WHERE is_user_process = 1`

	blockingQuery = `SELECT
    r.blocking_session_id,
    r.session_id,
    r.wait_time / 1000.0 AS wait_seconds,
    ISNULL(r.wait_resource, '') AS wait_resource
FROM sys.dm_exec_requests r
WHERE r.blocking_session_id <> 0`

	alertsQuery = `SELECT
    CAST(id AS NVARCHAR(64)) AS id,
    alert_type,
    severity,
    ISNULL(message, '') AS message,
    raised_at,
    acknowledged
FROM dbo.monitor_alerts
WHERE resolved_at IS NULL`

	ackAlertQuery = `UPDATE dbo.monitor_alerts
SET acknowledged = 1,
    acknowledged_at = SYSUTCDATETIME()
WHERE id = @p1 AND acknowledged = 0`
)

// Source polls SQL Server DMVs and the dashboard's alert table.
type Source struct {
	db      *sql.DB
	timeout time.Duration
	log     *slog.Logger
}

// New opens a connection pool against the configured DSN and verifies it.
func New(ctx context.Context, cfg config.MSSQLConfig, log *slog.Logger) (*Source, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mssql: %w", err)
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Source{db: db, timeout: timeout, log: log.With("component", "mssql_source")}, nil
}

// Latest bundles the current telemetry into an immutable snapshot. Individual
// query failures degrade the snapshot instead of failing it wholesale; only a
// completely unreachable server returns an error.
func (s *Source) Latest(ctx context.Context) (*models.SignalSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("mssql unreachable: %w", err)
	}

	snap := &models.SignalSnapshot{
		At:      time.Now().UTC(),
		Metrics: map[string]float64{},
		Facts:   map[string]string{},
	}

	if err := s.collectCPU(ctx, snap); err != nil {
		s.log.Warn("cpu telemetry query failed", "error", err)
	}
	if err := s.collectSessions(ctx, snap); err != nil {
		s.log.Warn("session telemetry query failed", "error", err)
	}
	if err := s.collectBlocking(ctx, snap); err != nil {
		s.log.Warn("blocking telemetry query failed", "error", err)
	}
	if err := s.collectAlerts(ctx, snap); err != nil {
		s.log.Warn("alert telemetry query failed", "error", err)
	}
	return snap, nil
}

func (s *Source) collectCPU(ctx context.Context, snap *models.SignalSnapshot) error {
	var systemIdle, sqlCPU sql.NullInt64
	err := s.db.QueryRowContext(ctx, cpuQuery).Scan(&systemIdle, &sqlCPU)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("query cpu ring buffer: %w", err)
	}
	if sqlCPU.Valid {
		snap.Metrics["cpu_percent"] = float64(sqlCPU.Int64)
	}
	if systemIdle.Valid {
		snap.Metrics["host_idle_percent"] = float64(systemIdle.Int64)
	}
	return nil
}

func (s *Source) collectSessions(ctx context.Context, snap *models.SignalSnapshot) error {
	var total, running sql.NullInt64
	if err := s.db.QueryRowContext(ctx, sessionCountsQuery).Scan(&total, &running); err != nil {
		return fmt.Errorf("query session counts: %w", err)
	}
	if total.Valid {
		snap.Metrics["session_count"] = float64(total.Int64)
	}
	if running.Valid {
		snap.Metrics["running_session_count"] = float64(running.Int64)
	}
	return nil
}

func (s *Source) collectBlocking(ctx context.Context, snap *models.SignalSnapshot) error {
	rows, err := s.db.QueryContext(ctx, blockingQuery)
	if err != nil {
		return fmt.Errorf("query blocking sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var chain models.BlockingChain
		if err := rows.Scan(&chain.BlockingSessionID, &chain.BlockedSessionID, &chain.WaitSeconds, &chain.Resource); err != nil {
			return fmt.Errorf("scan blocking row: %w", err)
		}
		snap.Blocking = append(snap.Blocking, chain)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate blocking rows: %w", err)
	}
	return nil
}

func (s *Source) collectAlerts(ctx context.Context, snap *models.SignalSnapshot) error {
	rows, err := s.db.QueryContext(ctx, alertsQuery)
	if err != nil {
		return fmt.Errorf("query active alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var alert models.ActiveAlert
		if err := rows.Scan(&alert.ID, &alert.Type, &alert.Severity, &alert.Message, &alert.RaisedAt, &alert.Acknowledged); err != nil {
			return fmt.Errorf("scan alert row: %w", err)
		}
		snap.Alerts = append(snap.Alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate alert rows: %w", err)
	}
	return nil
}

// AckAlert marks an active alert acknowledged in the dashboard's alert table.
func (s *Source) AckAlert(ctx context.Context, alertID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, ackAlertQuery, alertID)
	if err != nil {
		return fmt.Errorf("acknowledge alert %s: %w", alertID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("alert %s not found or already acknowledged", alertID)
	}
	return nil
}

// Close releases the connection pool.
func (s *Source) Close() error {
	return s.db.Close()
}
