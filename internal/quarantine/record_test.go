package quarantine

import (
	"testing"
	"time"
)

func testNewRecordPopulatesFields(t *testing.T) {
	now := time.Now().UTC()
	rec, err := NewRecord("devices/1/telemetry", "client-a", 1, false, ReasonSchemaValidationError, "missing field temperature", "temperature_v1", "abc123", 42, now)
	if err != nil {
		t.Fatalf("NewRecord: %s", err)
	}
	if rec.ID == "" {
		t.Fatal("expected non-empty id")
	}
	if rec.Topic != "devices/1/telemetry" {
		t.Fatalf("unexpected topic %s", rec.Topic)
	}
	if rec.Reason != ReasonSchemaValidationError {
		t.Fatalf("unexpected reason %s", rec.Reason)
	}
	if rec.QuarantinedAt.Before(now) {
		t.Fatal("expected quarantined_at to be at or after received_at")
	}
}

func testNewRecordIDsAreOrdered(t *testing.T) {
	now := time.Now().UTC()
	first, err := NewRecord("a", "c", 0, false, ReasonInternalError, "", "", "", 0, now)
	if err != nil {
		t.Fatalf("NewRecord: %s", err)
	}
	second, err := NewRecord("a", "c", 0, false, ReasonInternalError, "", "", "", 0, now)
	if err != nil {
		t.Fatalf("NewRecord: %s", err)
	}
	if first.ID >= second.ID {
		t.Fatalf("expected uuidv7 ids to sort chronologically, got %s then %s", first.ID, second.ID)
	}
}

func TestRecord(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"new record populates fields", testNewRecordPopulatesFields},
		{"new record ids are ordered", testNewRecordIDsAreOrdered},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
