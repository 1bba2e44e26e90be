package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/infrastructure/database"
)

// Logger is the minimal logging interface the recorder needs.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Event is one journaled state change.
type Event struct {
	ID         int64     `json:"id"`
	Node       int       `json:"node"`
	Slot       int       `json:"slot"`
	Capability string    `json:"capability"`
	Value      string    `json:"value"`
	Source     string    `json:"source"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Command is one journaled command resolution.
type Command struct {
	ID         string    `json:"id"`
	Node       int       `json:"node"`
	Slot       int       `json:"slot"`
	Capability string    `json:"capability"`
	Payload    string    `json:"payload"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder journals value events and command resolutions into SQLite.
//
// The record methods never return errors: a journal write failure is
// logged and the event dropped, keeping the synchronizer's hot path
// independent of database health.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *database.DB
	logger Logger

	// Prepared statements for inserts (created once, reused)
	eventStmt   *sql.Stmt
	commandStmt *sql.Stmt
	stmtMu      sync.Mutex

	// Shutdown coordination
	closed bool
	mu     sync.RWMutex
}

// NewRecorder creates a recorder over an opened, migrated database.
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the insert statements.
// Must be called before RecordEvent or RecordCommand.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.eventStmt != nil {
		return nil // Already started
	}

	eventStmt, err := r.db.Prepare(`
		INSERT INTO value_events (node_id, slot_index, capability, value, source, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing event insert statement: %w", err)
	}

	commandStmt, err := r.db.Prepare(`
		INSERT INTO commands (id, node_id, slot_index, capability, payload, outcome, detail, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		eventStmt.Close()
		return fmt.Errorf("preparing command insert statement: %w", err)
	}

	r.eventStmt = eventStmt
	r.commandStmt = commandStmt
	r.log("journal recorder started")
	return nil
}

// Stop closes the recorder and releases its statements.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.eventStmt != nil {
		r.eventStmt.Close()
		r.eventStmt = nil
	}
	if r.commandStmt != nil {
		r.commandStmt.Close()
		r.commandStmt = nil
	}

	r.log("journal recorder stopped")
}

// RecordEvent journals one published state change.
//
// Parameters:
//   - node: Node the value belongs to
//   - slot: Capability slot index within the node
//   - capability: Capability kind string (e.g., "switch", "sensor")
//   - value: Payload as published on the bus
//   - source: "device" for reports, "command" for optimistic echoes
func (r *Recorder) RecordEvent(node, slot int, capability, value, source string) {
	stmt := r.stmt(&r.eventStmt)
	if stmt == nil {
		return
	}

	if _, err := stmt.Exec(node, slot, capability, value, source, time.Now().UTC()); err != nil {
		r.logError("journaling event", err)
	}
}

// RecordCommand journals one command resolution with a generated ID.
//
// Parameters:
//   - node: Target node
//   - slot: Capability slot index within the node
//   - capability: Capability kind string
//   - payload: Raw command payload as received from the bus
//   - outcome: "accepted", "rejected" or "failed"
//   - detail: Failure detail, empty for accepted commands
func (r *Recorder) RecordCommand(node, slot int, capability, payload, outcome, detail string) {
	stmt := r.stmt(&r.commandStmt)
	if stmt == nil {
		return
	}

	id := uuid.NewString()
	if _, err := stmt.Exec(id, node, slot, capability, payload, outcome, detail, time.Now().UTC()); err != nil {
		r.logError("journaling command", err)
	}
}

// RecentEvents returns the newest journaled events, newest first.
func (r *Recorder) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_id, slot_index, capability, value, source, recorded_at
		FROM value_events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Node, &e.Slot, &e.Capability, &e.Value, &e.Source, &e.RecordedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// RecentCommands returns the newest journaled commands, newest first.
func (r *Recorder) RecentCommands(ctx context.Context, limit int) ([]Command, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_id, slot_index, capability, payload, outcome, COALESCE(detail, ''), recorded_at
		FROM commands
		ORDER BY recorded_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []Command
	for rows.Next() {
		var c Command
		if err := rows.Scan(&c.ID, &c.Node, &c.Slot, &c.Capability, &c.Payload, &c.Outcome, &c.Detail, &c.RecordedAt); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}

	return commands, rows.Err()
}

// EventCount returns the number of journaled events.
func (r *Recorder) EventCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM value_events`).Scan(&count)
	return count, err
}

// CommandCount returns the number of journaled commands.
func (r *Recorder) CommandCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&count)
	return count, err
}

// stmt returns the prepared statement, or nil when the recorder is not
// started or already stopped.
func (r *Recorder) stmt(field **sql.Stmt) *sql.Stmt {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	return *field
}

func (r *Recorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
