package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soaringjerry/Gatepass/internal/models"
)

func newCheckpointFixture() (*CheckpointService, *stubStore) {
	store := newStubStore()
	store.add(&models.Participant{ID: "12345678", FullName: "Jane Doe", Email: "jane@x.edu", StudentNumber: "12345678", Role: models.RoleParticipant})
	svc := NewCheckpointService(store, NoRetry())
	return svc, store
}

func TestRecordMealTwiceIsIdempotent(t *testing.T) {
	svc, store := newCheckpointFixture()
	ctx := context.Background()
	t0 := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return t0 }

	first, err := svc.Record(ctx, RecordInput{ParticipantID: "12345678", Event: "meal", Actor: "fac@x.edu"})
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if first.AlreadyRecorded || first.Message != "Jane Doe collected a meal." {
		t.Fatalf("unexpected first result %+v", first)
	}

	svc.now = func() time.Time { return t0.Add(time.Minute) }
	second, err := svc.Record(ctx, RecordInput{ParticipantID: "12345678", Event: "meals"})
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if !second.AlreadyRecorded {
		t.Fatalf("second scan should report already recorded")
	}
	p, _ := store.GetParticipant(ctx, "12345678")
	if !p.MealStatus || p.MealAt == nil || p.MealAt.Before(t0) {
		t.Fatalf("meal flag/timestamp wrong: %+v", p)
	}
	if len(store.logs) != 2 || store.logs[0].Actor != "fac@x.edu" {
		t.Fatalf("expected two audit rows, got %+v", store.logs)
	}
}

func TestRecordUnknownParticipantWritesNothing(t *testing.T) {
	svc, store := newCheckpointFixture()
	_, err := svc.Record(context.Background(), RecordInput{ParticipantID: "99999999", Event: "checkin"})
	if !IsCode(err, ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if store.setCalls != 0 || len(store.logs) != 0 {
		t.Fatalf("unknown participant must not write")
	}
}

func TestRecordRejectsUnknownEvent(t *testing.T) {
	svc, store := newCheckpointFixture()
	_, err := svc.Record(context.Background(), RecordInput{ParticipantID: "12345678", Event: "dessert"})
	if !IsCode(err, ErrorInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
	if store.setCalls != 0 {
		t.Fatalf("invalid event must not touch the store")
	}
}

func TestRecordToleratesAuditFailure(t *testing.T) {
	svc, store := newCheckpointFixture()
	store.failAppend = errors.New("log table locked")
	res, err := svc.Record(context.Background(), RecordInput{ParticipantID: "12345678", Event: "checkin"})
	if err != nil {
		t.Fatalf("audit failure should not fail the scan: %v", err)
	}
	if res.Message != "Jane Doe checked in." {
		t.Fatalf("unexpected message %q", res.Message)
	}
	p, _ := store.GetParticipant(context.Background(), "12345678")
	if !p.CheckinStatus {
		t.Fatalf("checkin flag not set")
	}
}

func TestRecordStoreFailure(t *testing.T) {
	svc, store := newCheckpointFixture()
	store.failSet = errors.New("disk I/O error")
	if _, err := svc.Record(context.Background(), RecordInput{ParticipantID: "12345678", Event: "checkin"}); !IsCode(err, ErrorBadGateway) {
		t.Fatalf("expected bad gateway, got %v", err)
	}
}

func TestRecordTransportAndTask(t *testing.T) {
	svc, store := newCheckpointFixture()
	ctx := context.Background()
	res, err := svc.Record(ctx, RecordInput{ParticipantID: "12345678", Event: "boarding"})
	if err != nil {
		t.Fatalf("boarding: %v", err)
	}
	if res.Event != models.CheckpointTransport || res.Message != "Jane Doe boarded the bus." {
		t.Fatalf("unexpected boarding result %+v", res)
	}
	res, err = svc.Record(ctx, RecordInput{ParticipantID: "12345678", Event: "task", TaskType: "swag"})
	if err != nil {
		t.Fatalf("task: %v", err)
	}
	if res.Message != "Swag recorded for Jane Doe." {
		t.Fatalf("unexpected task message %q", res.Message)
	}
	p, _ := store.GetParticipant(ctx, "12345678")
	if !p.TaskStatus || p.TaskType != "swag" {
		t.Fatalf("task not recorded: %+v", p)
	}
	if store.logs[0].EventType != "boarding" || store.logs[1].EventType != "swag" {
		t.Fatalf("unexpected audit event names %+v", store.logs)
	}
}

func TestRecordScanPayloads(t *testing.T) {
	svc, _ := newCheckpointFixture()
	ctx := context.Background()
	res, err := svc.RecordScan(ctx, " 12345678 ", RecordInput{Event: "checkin"})
	if err != nil || res.ParticipantID != "12345678" {
		t.Fatalf("plain payload: %+v %v", res, err)
	}
	res, err = svc.RecordScan(ctx, "Jane Doe|JANE@x.edu|participant|HACK25", RecordInput{Event: "meal"})
	if err != nil || res.ParticipantID != "12345678" {
		t.Fatalf("legacy payload: %+v %v", res, err)
	}
	if _, err := svc.RecordScan(ctx, "a|b", RecordInput{Event: "meal"}); !IsCode(err, ErrorInvalid) {
		t.Fatalf("expected invalid for malformed payload, got %v", err)
	}
	if _, err := svc.RecordScan(ctx, "X|nobody@x.edu|participant|HACK25", RecordInput{Event: "meal"}); !IsCode(err, ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
