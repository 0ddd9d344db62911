package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/escalation"
	"github.com/procx/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL,
		segment TEXT NOT NULL,
		loyalty_tier TEXT NOT NULL,
		lifetime_value REAL NOT NULL DEFAULT 0,
		preferred_category TEXT,
		phone TEXT,
		country TEXT,
		language TEXT,
		avg_order_value REAL,
		signup_date INTEGER,
		last_active_date INTEGER,
		opt_in_marketing INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_customers_segment ON customers(segment);
	CREATE INDEX IF NOT EXISTS idx_customers_ltv ON customers(lifetime_value);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		amount REAL NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);

	CREATE TABLE IF NOT EXISTS support_tickets (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		csat_score REAL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_customer ON support_tickets(customer_id);

	CREATE TABLE IF NOT EXISTS nps_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_nps_customer ON nps_responses(customer_id);

	CREATE TABLE IF NOT EXISTS churn_labels (
		customer_id TEXT PRIMARY KEY,
		churned INTEGER NOT NULL DEFAULT 0,
		predicted_score REAL NOT NULL DEFAULT 0,
		FOREIGN KEY (customer_id) REFERENCES customers(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS active_escalations (
		customer_id TEXT PRIMARY KEY,
		escalation_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		reason TEXT NOT NULL,
		priority TEXT NOT NULL,
		health_score REAL NOT NULL DEFAULT 0,
		assigned_to TEXT,
		status TEXT NOT NULL,
		resolution_notes TEXT,
		resolved_at INTEGER,
		last_updated INTEGER NOT NULL,
		interactions TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS escalation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT NOT NULL,
		escalation_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		reason TEXT NOT NULL,
		priority TEXT NOT NULL,
		health_score REAL NOT NULL DEFAULT 0,
		assigned_to TEXT,
		status TEXT NOT NULL,
		resolution_notes TEXT,
		resolved_at INTEGER,
		last_updated INTEGER NOT NULL,
		interactions TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_history_customer ON escalation_history(customer_id);
	CREATE INDEX IF NOT EXISTS idx_history_resolved ON escalation_history(resolved_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

const profileColumns = `id, first_name, last_name, email, segment, loyalty_tier, lifetime_value,
	preferred_category, phone, country, language, avg_order_value, signup_date, last_active_date, opt_in_marketing`

func scanProfile(row interface{ Scan(dest ...any) error }) (*customer.Profile, error) {
	var p customer.Profile
	var preferred, phone, country, language sql.NullString
	var avgOrder sql.NullFloat64
	var signup, lastActive, optIn sql.NullInt64

	err := row.Scan(
		&p.ID,
		&p.FirstName,
		&p.LastName,
		&p.Email,
		&p.Segment,
		&p.LoyaltyTier,
		&p.LifetimeValue,
		&preferred,
		&phone,
		&country,
		&language,
		&avgOrder,
		&signup,
		&lastActive,
		&optIn,
	)
	if err != nil {
		return nil, err
	}

	p.PreferredCategory = preferred.String
	p.Phone = phone.String
	p.Country = country.String
	p.Language = language.String
	if avgOrder.Valid {
		v := avgOrder.Float64
		p.AvgOrderValue = &v
	}
	if signup.Valid {
		t := time.Unix(signup.Int64, 0)
		p.SignupDate = &t
	}
	if lastActive.Valid {
		t := time.Unix(lastActive.Int64, 0)
		p.LastActiveDate = &t
	}
	if optIn.Valid {
		v := optIn.Int64 != 0
		p.OptInMarketing = &v
	}

	return &p, nil
}

func (c *Client) GetByID(ctx context.Context, id string) (*customer.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM customers WHERE id = ?`

	p, err := scanProfile(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, customer.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return p, nil
}

// GetAggregates collects per-customer rollups from the related tables. A
// missing table entry produces a nil member, never an error.
func (c *Client) GetAggregates(ctx context.Context, id string) (*customer.Aggregates, error) {
	agg := &customer.Aggregates{}

	orders, err := c.orderStats(ctx, id)
	if err != nil {
		return nil, err
	}
	agg.Orders = orders

	support, err := c.supportStats(ctx, id)
	if err != nil {
		return nil, err
	}
	agg.Support = support

	nps, err := c.latestNPS(ctx, id)
	if err != nil {
		return nil, err
	}
	agg.NPS = nps

	churn, err := c.churnLabel(ctx, id)
	if err != nil {
		return nil, err
	}
	agg.Churn = churn

	return agg, nil
}

func (c *Client) orderStats(ctx context.Context, id string) (*customer.OrderStats, error) {
	query := `SELECT COUNT(*), COALESCE(MIN(created_at), 0) FROM orders WHERE customer_id = ?`

	var count int
	var firstOrder int64
	err := c.db.QueryRowContext(ctx, query, id).Scan(&count, &firstOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to get order stats: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	months := time.Since(time.Unix(firstOrder, 0)).Hours() / 24 / 30.44
	if months < 1 {
		months = 1
	}

	return &customer.OrderStats{
		TotalOrders:    count,
		OrdersPerMonth: float64(count) / months,
	}, nil
}

func (c *Client) supportStats(ctx context.Context, id string) (*customer.SupportStats, error) {
	query := `SELECT COUNT(*), AVG(csat_score) FROM support_tickets WHERE customer_id = ?`

	var count int
	var avg sql.NullFloat64
	err := c.db.QueryRowContext(ctx, query, id).Scan(&count, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to get support stats: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	stats := &customer.SupportStats{TotalTickets: count}
	if avg.Valid {
		v := avg.Float64
		stats.AvgCSAT = &v
	}
	return stats, nil
}

func (c *Client) latestNPS(ctx context.Context, id string) (*customer.NPSCategory, error) {
	query := `SELECT score FROM nps_responses WHERE customer_id = ? ORDER BY created_at DESC LIMIT 1`

	var score int
	err := c.db.QueryRowContext(ctx, query, id).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get NPS response: %w", err)
	}

	category := customer.NPSDetractor
	switch {
	case score >= 9:
		category = customer.NPSPromoter
	case score >= 7:
		category = customer.NPSPassive
	}
	return &category, nil
}

func (c *Client) churnLabel(ctx context.Context, id string) (*customer.ChurnSignal, error) {
	query := `SELECT churned, predicted_score FROM churn_labels WHERE customer_id = ?`

	var churned int
	var predicted float64
	err := c.db.QueryRowContext(ctx, query, id).Scan(&churned, &predicted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get churn label: %w", err)
	}

	return &customer.ChurnSignal{Churned: churned != 0, PredictedScore: predicted}, nil
}

// Scan lists customers for a bulk pass. With segment filters it returns every
// match above the lifetime value floor; without them it samples the top
// customers of each segment by lifetime value to keep the pass balanced.
func (c *Client) Scan(ctx context.Context, filters customer.ScanFilters) ([]customer.Profile, error) {
	if len(filters.Segments) > 0 {
		placeholders := strings.Repeat("?,", len(filters.Segments))
		placeholders = placeholders[:len(placeholders)-1]

		query := `SELECT ` + profileColumns + ` FROM customers
			WHERE segment IN (` + placeholders + `) AND lifetime_value >= ?
			ORDER BY lifetime_value DESC`

		args := make([]any, 0, len(filters.Segments)+1)
		for _, s := range filters.Segments {
			args = append(args, string(s))
		}
		args = append(args, filters.MinLifetimeValue)

		return c.queryProfiles(ctx, query, args...)
	}

	query := `SELECT ` + profileColumns + ` FROM customers
		WHERE segment = ? AND lifetime_value >= ?
		ORDER BY lifetime_value DESC`
	if filters.SamplePerSegment > 0 {
		query += ` LIMIT ?`
	}

	var out []customer.Profile
	for _, segment := range customer.Segments {
		args := []any{string(segment), filters.MinLifetimeValue}
		if filters.SamplePerSegment > 0 {
			args = append(args, filters.SamplePerSegment)
		}

		profiles, err := c.queryProfiles(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, profiles...)
	}

	return out, nil
}

func (c *Client) queryProfiles(ctx context.Context, query string, args ...any) ([]customer.Profile, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan customers: %w", err)
	}
	defer rows.Close()

	var profiles []customer.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		profiles = append(profiles, *p)
	}

	return profiles, rows.Err()
}

func (c *Client) SegmentStats(ctx context.Context, segment customer.Segment) (*customer.SegmentStats, error) {
	query := `SELECT COUNT(*), COALESCE(AVG(lifetime_value), 0) FROM customers WHERE segment = ?`

	var count int
	var avgLTV float64
	err := c.db.QueryRowContext(ctx, query, string(segment)).Scan(&count, &avgLTV)
	if err != nil {
		return nil, fmt.Errorf("failed to get segment stats: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	return &customer.SegmentStats{TotalCustomers: count, AvgLifetimeValue: avgLTV}, nil
}

// CohortPercentile positions a customer's lifetime value within the same
// segment+tier cohort, 0-100.
func (c *Client) CohortPercentile(ctx context.Context, p *customer.Profile) (float64, bool, error) {
	query := `
		SELECT COUNT(*), SUM(CASE WHEN lifetime_value < ? THEN 1 ELSE 0 END)
		FROM customers WHERE segment = ? AND loyalty_tier = ?
	`

	var total int
	var below sql.NullInt64
	err := c.db.QueryRowContext(ctx, query, p.LifetimeValue, string(p.Segment), string(p.LoyaltyTier)).
		Scan(&total, &below)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get cohort percentile: %w", err)
	}
	if total == 0 {
		return 0, false, nil
	}

	return float64(below.Int64) / float64(total) * 100, true, nil
}

// --- dataset seeding writers ---

func (c *Client) UpsertCustomer(ctx context.Context, p *customer.Profile) error {
	query := `
		INSERT INTO customers (` + profileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			segment = excluded.segment,
			loyalty_tier = excluded.loyalty_tier,
			lifetime_value = excluded.lifetime_value,
			avg_order_value = excluded.avg_order_value,
			last_active_date = excluded.last_active_date,
			opt_in_marketing = excluded.opt_in_marketing
	`

	var avgOrder any
	if p.AvgOrderValue != nil {
		avgOrder = *p.AvgOrderValue
	}
	var signup, lastActive any
	if p.SignupDate != nil {
		signup = p.SignupDate.Unix()
	}
	if p.LastActiveDate != nil {
		lastActive = p.LastActiveDate.Unix()
	}
	var optIn any
	if p.OptInMarketing != nil {
		optIn = boolToInt(*p.OptInMarketing)
	}

	_, err := c.db.ExecContext(ctx, query,
		p.ID, p.FirstName, p.LastName, p.Email,
		string(p.Segment), string(p.LoyaltyTier), p.LifetimeValue, p.PreferredCategory,
		p.Phone, p.Country, p.Language,
		avgOrder, signup, lastActive, optIn,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

func (c *Client) InsertOrder(ctx context.Context, id, customerID string, amount float64, createdAt time.Time) error {
	query := `INSERT OR IGNORE INTO orders (id, customer_id, amount, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query, id, customerID, amount, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (c *Client) InsertSupportTicket(ctx context.Context, id, customerID string, csat *float64, createdAt time.Time) error {
	query := `INSERT OR IGNORE INTO support_tickets (id, customer_id, csat_score, created_at) VALUES (?, ?, ?, ?)`

	var score any
	if csat != nil {
		score = *csat
	}
	_, err := c.db.ExecContext(ctx, query, id, customerID, score, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert support ticket: %w", err)
	}
	return nil
}

func (c *Client) InsertNPSResponse(ctx context.Context, customerID string, score int, createdAt time.Time) error {
	query := `INSERT INTO nps_responses (customer_id, score, created_at) VALUES (?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query, customerID, score, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert NPS response: %w", err)
	}
	return nil
}

func (c *Client) UpsertChurnLabel(ctx context.Context, customerID string, churned bool, predicted float64) error {
	query := `
		INSERT INTO churn_labels (customer_id, churned, predicted_score)
		VALUES (?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			churned = excluded.churned,
			predicted_score = excluded.predicted_score
	`

	_, err := c.db.ExecContext(ctx, query, customerID, boolToInt(churned), predicted)
	if err != nil {
		return fmt.Errorf("failed to upsert churn label: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- escalation.Store ---

const escalationColumns = `customer_id, escalation_id, created_at, reason, priority, health_score,
	assigned_to, status, resolution_notes, resolved_at, last_updated, interactions`

func (c *Client) LoadActive(ctx context.Context) ([]escalation.Record, error) {
	query := `SELECT ` + escalationColumns + ` FROM active_escalations`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load active escalations: %w", err)
	}
	defer rows.Close()

	var records []escalation.Record
	for rows.Next() {
		r, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *r)
	}

	return records, rows.Err()
}

func (c *Client) SaveActive(ctx context.Context, record *escalation.Record) error {
	interactionsJSON, err := json.Marshal(record.Interactions)
	if err != nil {
		return fmt.Errorf("failed to encode interactions: %w", err)
	}

	query := `
		INSERT INTO active_escalations (` + escalationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			resolution_notes = excluded.resolution_notes,
			resolved_at = excluded.resolved_at,
			last_updated = excluded.last_updated,
			interactions = excluded.interactions
	`

	var resolvedAt any
	if record.ResolvedAt != nil {
		resolvedAt = record.ResolvedAt.Unix()
	}

	_, err = c.db.ExecContext(ctx, query,
		record.CustomerID, record.EscalationID, record.CreatedAt.Unix(),
		record.Reason, record.Priority, record.HealthScore,
		record.AssignedTo, string(record.Status), record.ResolutionNotes,
		resolvedAt, record.LastUpdated.Unix(), string(interactionsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to save escalation: %w", err)
	}

	logger.Debug("Escalation persisted",
		zap.String("customer_id", record.CustomerID),
		zap.String("status", string(record.Status)),
	)
	return nil
}

func (c *Client) RemoveActive(ctx context.Context, customerID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM active_escalations WHERE customer_id = ?`, customerID)
	if err != nil {
		return fmt.Errorf("failed to remove active escalation: %w", err)
	}
	return nil
}

func (c *Client) AppendHistory(ctx context.Context, record *escalation.Record) error {
	interactionsJSON, err := json.Marshal(record.Interactions)
	if err != nil {
		return fmt.Errorf("failed to encode interactions: %w", err)
	}

	query := `
		INSERT INTO escalation_history (` + escalationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var resolvedAt any
	if record.ResolvedAt != nil {
		resolvedAt = record.ResolvedAt.Unix()
	}

	_, err = c.db.ExecContext(ctx, query,
		record.CustomerID, record.EscalationID, record.CreatedAt.Unix(),
		record.Reason, record.Priority, record.HealthScore,
		record.AssignedTo, string(record.Status), record.ResolutionNotes,
		resolvedAt, record.LastUpdated.Unix(), string(interactionsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to append escalation history: %w", err)
	}
	return nil
}

func (c *Client) History(ctx context.Context, customerID string, limit int) ([]escalation.Record, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalation_history
		WHERE customer_id = ? ORDER BY last_updated DESC`
	args := []any{customerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation history: %w", err)
	}
	defer rows.Close()

	var records []escalation.Record
	for rows.Next() {
		r, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, *r)
	}

	return records, rows.Err()
}

func (c *Client) CountHistory(ctx context.Context) (int, error) {
	var count int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escalation_history`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count escalation history: %w", err)
	}
	return count, nil
}

func scanEscalation(row interface{ Scan(dest ...any) error }) (*escalation.Record, error) {
	var r escalation.Record
	var createdAt, lastUpdated int64
	var assignedTo, notes, interactionsJSON sql.NullString
	var resolvedAt sql.NullInt64

	err := row.Scan(
		&r.CustomerID,
		&r.EscalationID,
		&createdAt,
		&r.Reason,
		&r.Priority,
		&r.HealthScore,
		&assignedTo,
		&r.Status,
		&notes,
		&resolvedAt,
		&lastUpdated,
		&interactionsJSON,
	)
	if err != nil {
		return nil, err
	}

	r.CreatedAt = time.Unix(createdAt, 0)
	r.LastUpdated = time.Unix(lastUpdated, 0)
	r.AssignedTo = assignedTo.String
	r.ResolutionNotes = notes.String
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0)
		r.ResolvedAt = &t
	}
	r.Interactions = []escalation.InteractionEntry{}
	if interactionsJSON.Valid && interactionsJSON.String != "" {
		if err := json.Unmarshal([]byte(interactionsJSON.String), &r.Interactions); err != nil {
			return nil, fmt.Errorf("failed to decode interactions: %w", err)
		}
	}

	return &r, nil
}
