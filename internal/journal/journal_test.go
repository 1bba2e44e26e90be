package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/infrastructure/database"
	_ "github.com/slvwolf/zwave-mqtt-bridge/migrations"
)

func testRecorder(t *testing.T) *Recorder {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: 5000,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	r := NewRecorder(db)
	if err := r.Start(); err != nil {
		t.Fatalf("starting recorder: %v", err)
	}
	t.Cleanup(r.Stop)
	return r
}

func TestRecordEvent(t *testing.T) {
	r := testRecorder(t)
	ctx := context.Background()

	r.RecordEvent(5, 0, "switch", "ON", "device")
	r.RecordEvent(5, 0, "switch", "OFF", "command")

	events, err := r.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	// Newest first.
	if events[0].Value != "OFF" || events[0].Source != "command" {
		t.Errorf("newest event = %+v", events[0])
	}
	if events[1].Value != "ON" || events[1].Source != "device" {
		t.Errorf("oldest event = %+v", events[1])
	}
	if events[0].Node != 5 || events[0].Capability != "switch" {
		t.Errorf("event fields = %+v", events[0])
	}
	if events[0].RecordedAt.IsZero() {
		t.Error("recorded_at not set")
	}
}

func TestRecordCommand(t *testing.T) {
	r := testRecorder(t)
	ctx := context.Background()

	r.RecordCommand(6, 1, "dimmer", "75", "accepted", "")
	r.RecordCommand(6, 1, "dimmer", "banana", "rejected", "invalid brightness")

	commands, err := r.RecentCommands(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCommands() error = %v", err)
	}
	if len(commands) != 2 {
		t.Fatalf("commands = %d, want 2", len(commands))
	}

	var rejected *Command
	for i := range commands {
		if commands[i].Outcome == "rejected" {
			rejected = &commands[i]
		}
		if commands[i].ID == "" {
			t.Error("command without generated ID")
		}
	}
	if rejected == nil {
		t.Fatal("rejected command not journaled")
	}
	if rejected.Payload != "banana" || rejected.Detail != "invalid brightness" {
		t.Errorf("rejected command = %+v", rejected)
	}
}

func TestRecentEventsLimit(t *testing.T) {
	r := testRecorder(t)

	for i := 0; i < 5; i++ {
		r.RecordEvent(3, 0, "sensor", "21.5", "device")
	}

	events, err := r.RecentEvents(context.Background(), 3)
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Errorf("events = %d, want 3", len(events))
	}

	count, err := r.EventCount(context.Background())
	if err != nil {
		t.Fatalf("EventCount() error = %v", err)
	}
	if count != 5 {
		t.Errorf("count = %d, want 5", count)
	}
}

func TestRecordAfterStop(t *testing.T) {
	r := testRecorder(t)
	r.Stop()

	// Must not panic or write.
	r.RecordEvent(5, 0, "switch", "ON", "device")
	r.RecordCommand(5, 0, "switch", "ON", "accepted", "")
}

func TestStartIsIdempotent(t *testing.T) {
	r := testRecorder(t)
	if err := r.Start(); err != nil {
		t.Errorf("second Start() error = %v", err)
	}
}
