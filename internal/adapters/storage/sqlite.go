package storage

// sqlite.go — telemetría del bot y cola de órdenes externas.
//
// Estrategia:
//   - `trades`: una fila por orden enviada (UPSERT por id, los reintentos la pisan).
//   - `fills`, `events`, `lifecycle`: append-only.
//   - `snapshots`: foto periódica por mercado. Es lo que más crece, así que
//     se poda al arrancar.
//   - `pending_orders`: cola QUEUED → DONE | FAILED que drena el engine.
//   - Timestamps en milisegundos unix: ordenan bien y no dependen del
//     formato de fecha del driver.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

// ErrNotFound se devuelve cuando una orden de la cola no existe.
var ErrNotFound = errors.New("storage: not found")

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id          TEXT PRIMARY KEY,
    client_id   TEXT    NOT NULL,
    slug        TEXT    NOT NULL,
    outcome     TEXT    NOT NULL,
    intent      TEXT    NOT NULL,
    price       REAL    NOT NULL,
    shares      REAL    NOT NULL,
    filled_size REAL    NOT NULL DEFAULT 0,
    avg_price   REAL    NOT NULL DEFAULT 0,
    status      TEXT    NOT NULL,
    reasoning   TEXT,
    retry_index INTEGER NOT NULL DEFAULT 0,
    error_class TEXT,
    error       TEXT,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id  TEXT    NOT NULL,
    slug      TEXT    NOT NULL,
    outcome   TEXT    NOT NULL,
    shares    REAL    NOT NULL,
    price     REAL    NOT NULL,
    ts        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    slug    TEXT,
    kind    TEXT    NOT NULL,
    level   TEXT    NOT NULL,
    message TEXT,
    ts      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lifecycle (
    id     INTEGER PRIMARY KEY AUTOINCREMENT,
    slug   TEXT    NOT NULL,
    stage  TEXT    NOT NULL,
    detail TEXT,
    ts     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    slug          TEXT    NOT NULL,
    up_shares     REAL    NOT NULL,
    down_shares   REAL    NOT NULL,
    up_invested   REAL    NOT NULL,
    down_invested REAL    NOT NULL,
    up_ask        REAL    NOT NULL,
    down_ask      REAL    NOT NULL,
    secs_left     REAL    NOT NULL,
    risk_score    REAL    NOT NULL,
    readiness     TEXT,
    ts            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_orders (
    id         TEXT PRIMARY KEY,
    slug       TEXT    NOT NULL,
    outcome    TEXT    NOT NULL,
    price      REAL    NOT NULL,
    shares     REAL    NOT NULL,
    intent     TEXT    NOT NULL,
    reasoning  TEXT,
    status     TEXT    NOT NULL DEFAULT 'QUEUED',
    detail     TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_created  ON trades(created_at);
CREATE INDEX IF NOT EXISTS idx_events_ts       ON events(ts);
CREATE INDEX IF NOT EXISTS idx_snapshots_ts    ON snapshots(ts);
CREATE INDEX IF NOT EXISTS idx_pending_status  ON pending_orders(status, created_at);
`

const (
	retentionSnapshots = 7 * 24 * time.Hour  // snapshots: 7 días
	retentionEvents    = 30 * 24 * time.Hour // events y lifecycle: 30 días
)

// SQLiteStorage persiste la telemetría y la cola de órdenes (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada, aplica el
// schema y limpia datos antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// WithClock sustituye el reloj (tests).
func (s *SQLiteStorage) WithClock(now func() time.Time) *SQLiteStorage {
	s.now = now
	return s
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ─── Telemetría ──────────────────────────────────────────────────────────────

// InsertTrade guarda una orden enviada. Un reintento con el mismo id
// actualiza la fila.
func (s *SQLiteStorage) InsertTrade(ctx context.Context, t domain.TradeRecord) error {
	created := t.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades
			(id, client_id, slug, outcome, intent, price, shares, filled_size,
			 avg_price, status, reasoning, retry_index, error_class, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filled_size = excluded.filled_size,
			avg_price   = excluded.avg_price,
			status      = excluded.status,
			retry_index = excluded.retry_index,
			error_class = excluded.error_class,
			error       = excluded.error
	`,
		t.ID, t.ClientID, t.Slug, string(t.Outcome), string(t.Intent),
		t.Price, t.Shares, t.FilledSize, t.AvgPrice, t.Status, t.Reasoning,
		t.RetryIndex, string(t.ErrorClass), t.Error, toMillis(created),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertTrade %s: %w", t.ID, err)
	}
	return nil
}

// InsertFill guarda un fill aplicado a una posición.
func (s *SQLiteStorage) InsertFill(ctx context.Context, f domain.FillRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fills (order_id, slug, outcome, shares, price, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		f.OrderID, f.Slug, string(f.Outcome), f.Shares, f.Price, toMillis(f.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertFill: %w", err)
	}
	return nil
}

// InsertEvent guarda un evento para el operador.
func (s *SQLiteStorage) InsertEvent(ctx context.Context, e domain.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (slug, kind, level, message, ts) VALUES (?, ?, ?, ?, ?)`,
		e.Slug, e.Kind, string(e.Level), e.Message, toMillis(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertEvent: %w", err)
	}
	return nil
}

// InsertLifecycle guarda un cambio de registro de un mercado.
func (s *SQLiteStorage) InsertLifecycle(ctx context.Context, l domain.LifecycleEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lifecycle (slug, stage, detail, ts) VALUES (?, ?, ?, ?)`,
		l.Slug, l.Stage, l.Detail, toMillis(l.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertLifecycle: %w", err)
	}
	return nil
}

// InsertSnapshot guarda la foto periódica de un mercado.
func (s *SQLiteStorage) InsertSnapshot(ctx context.Context, sn domain.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots
			(slug, up_shares, down_shares, up_invested, down_invested,
			 up_ask, down_ask, secs_left, risk_score, readiness, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sn.Slug, sn.UpShares, sn.DownShares, sn.UpInvested, sn.DownInvested,
		sn.UpAsk, sn.DownAsk, sn.SecondsRemaining, sn.RiskScore, sn.Readiness,
		toMillis(sn.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("storage.InsertSnapshot: %w", err)
	}
	return nil
}

// RecentEvents devuelve los eventos desde since, más recientes primero.
func (s *SQLiteStorage) RecentEvents(ctx context.Context, since time.Time, limit int) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(slug, ''), kind, level, COALESCE(message, ''), ts
		 FROM events WHERE ts >= ? ORDER BY ts DESC, id DESC LIMIT ?`,
		toMillis(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.RecentEvents: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var level string
		var ts int64
		if err := rows.Scan(&e.Slug, &e.Kind, &level, &e.Message, &ts); err != nil {
			return nil, fmt.Errorf("storage.RecentEvents: scan row: %w", err)
		}
		e.Level = domain.EventLevel(level)
		e.Timestamp = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ─── Cola de órdenes ─────────────────────────────────────────────────────────

// Enqueue añade una orden ya decidida a la cola y devuelve su id.
func (s *SQLiteStorage) Enqueue(ctx context.Context, p domain.PendingOrder) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Intent == "" {
		p.Intent = domain.IntentEntry
	}
	now := toMillis(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_orders
			(id, slug, outcome, price, shares, intent, reasoning, status, detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)
	`,
		p.ID, p.Slug, string(p.Outcome), p.Price, p.Shares, string(p.Intent),
		p.Reasoning, string(domain.PendingQueued), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("storage.Enqueue: %w", err)
	}
	return p.ID, nil
}

// Pending devuelve hasta limit órdenes QUEUED, las más antiguas primero.
func (s *SQLiteStorage) Pending(ctx context.Context, limit int) ([]domain.PendingOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, outcome, price, shares, intent, COALESCE(reasoning, ''),
		       status, COALESCE(detail, ''), created_at, updated_at
		FROM pending_orders
		WHERE status = ?
		ORDER BY created_at, rowid
		LIMIT ?
	`, string(domain.PendingQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("storage.Pending: query: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingOrder
	for rows.Next() {
		var (
			p                       domain.PendingOrder
			outcome, intent, status string
			createdAt, updatedAt    int64
		)
		if err := rows.Scan(&p.ID, &p.Slug, &outcome, &p.Price, &p.Shares, &intent,
			&p.Reasoning, &status, &p.Detail, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("storage.Pending: scan row: %w", err)
		}
		p.Outcome = domain.Outcome(outcome)
		p.Intent = domain.Intent(intent)
		p.Status = domain.PendingStatus(status)
		p.CreatedAt = fromMillis(createdAt)
		p.UpdatedAt = fromMillis(updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Depth devuelve cuántas órdenes siguen QUEUED.
func (s *SQLiteStorage) Depth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_orders WHERE status = ?`, string(domain.PendingQueued),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage.Depth: %w", err)
	}
	return n, nil
}

// Resolve pasa una orden a DONE o FAILED con un detalle.
func (s *SQLiteStorage) Resolve(ctx context.Context, id string, status domain.PendingStatus, detail string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_orders SET status = ?, detail = ?, updated_at = ? WHERE id = ?`,
		string(status), detail, toMillis(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("storage.Resolve %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.Resolve %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("storage.Resolve %s: %w", id, ErrNotFound)
	}
	return nil
}

// ─── Report ──────────────────────────────────────────────────────────────────

// Report resume lo persistido desde since.
func (s *SQLiteStorage) Report(ctx context.Context, since time.Time) (domain.Report, error) {
	r := domain.Report{Since: since, ByIntent: make(map[domain.Intent]int)}
	from := toMillis(since)

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(filled_size), 0),
		       COALESCE(SUM(filled_size * avg_price), 0)
		FROM trades WHERE created_at >= ?
	`, from).Scan(&r.Orders, &r.Failed, &r.FilledShares, &r.Notional)
	if err != nil {
		return r, fmt.Errorf("storage.Report: totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT intent, COUNT(*) FROM trades WHERE created_at >= ? GROUP BY intent`, from)
	if err != nil {
		return r, fmt.Errorf("storage.Report: by intent: %w", err)
	}
	for rows.Next() {
		var intent string
		var n int
		if err := rows.Scan(&intent, &n); err != nil {
			rows.Close()
			return r, fmt.Errorf("storage.Report: scan intent: %w", err)
		}
		r.ByIntent[domain.Intent(intent)] = n
	}
	rows.Close()

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE ts >= ? AND level = ?`, from, string(domain.EventCritical),
	).Scan(&r.Critical); err != nil {
		return r, fmt.Errorf("storage.Report: critical events: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT slug, COUNT(*),
		       COALESCE(SUM(CASE WHEN outcome = 'UP' THEN filled_size ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN outcome = 'DOWN' THEN filled_size ELSE 0 END), 0),
		       COALESCE(SUM(filled_size * avg_price), 0) AS notional
		FROM trades WHERE created_at >= ?
		GROUP BY slug
		ORDER BY notional DESC, slug
	`, from)
	if err != nil {
		return r, fmt.Errorf("storage.Report: markets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.MarketReport
		if err := rows.Scan(&m.Slug, &m.Orders, &m.UpShares, &m.DownShares, &m.Notional); err != nil {
			return r, fmt.Errorf("storage.Report: scan market: %w", err)
		}
		r.Markets = append(r.Markets, m)
	}
	return r, rows.Err()
}

// --- helpers internos ---

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE ts < ?`, toMillis(now.Add(-retentionSnapshots))); err != nil {
		slog.Warn("storage: prune snapshots failed", "err", err)
	}
	cutoff := toMillis(now.Add(-retentionEvents))
	s.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, cutoff)
	s.db.ExecContext(ctx, `DELETE FROM lifecycle WHERE ts < ?`, cutoff)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
