package service

import (
	"cod-tracker/internal/domain"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeEnqueuer struct {
	status domain.EnqueueStatus
	names  []string
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, target string, mode domain.GameMode, dataType domain.DataType) (domain.EnqueueStatus, error) {
	e.names = append(e.names, domain.TaskName(target, mode, dataType))
	return e.status, nil
}

func newTracker(h *harness, status domain.EnqueueStatus) (*TrackerService, *fakeEnqueuer) {
	enq := &fakeEnqueuer{status: status}
	return NewTrackerService(h.players, h.matches, h.codec, h.games, h.engine, h.stats, h.loader,
		h.store, h.journal, enq, zerolog.Nop()), enq
}

func TestRequestUpdateQueuesTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "1", "alpha", domain.ParsedMatches, domain.GameModeMwMp)
	tracker, enq := newTracker(h, domain.EnqueueAdded)

	msg, err := tracker.RequestUpdate(ctx, "1", domain.GameModeMwMp, domain.DataTypeMatches)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "alpha | mw_mp | matches | added" {
		t.Errorf("message = %q", msg)
	}
	if len(enq.names) != 1 || enq.names[0] != "1 mw_mp matches" {
		t.Errorf("enqueued = %v", enq.names)
	}
}

func TestRequestUpdateConflict(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "1", "alpha", domain.ParsedMatches, domain.GameModeMwMp)
	tracker, _ := newTracker(h, domain.EnqueueInQueues)

	_, err := tracker.RequestUpdate(context.Background(), "1", domain.GameModeMwMp, domain.DataTypeMatches)
	var rejection *UpdateRejection
	if !errors.As(err, &rejection) || !rejection.Conflict {
		t.Fatalf("err = %v, want conflict", err)
	}
	if rejection.Reason != "alpha mw_mp matches in queues" {
		t.Errorf("reason = %q", rejection.Reason)
	}
}

func TestRequestUpdateInactiveTracker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addPlayer(t, "1", "alpha", domain.ParsedMatches, domain.GameModeMwMp)
	tracker, enq := newTracker(h, domain.EnqueueAdded)
	if err := tracker.SetStatus(ctx, domain.TrackerInactive); err != nil {
		t.Fatal(err)
	}

	_, err := tracker.RequestUpdate(ctx, "1", domain.GameModeMwMp, domain.DataTypeMatches)
	if err == nil || err.Error() != "fetch data inactive" {
		t.Fatalf("err = %v", err)
	}
	if len(enq.names) != 0 {
		t.Errorf("enqueued while inactive: %v", enq.names)
	}
}

func TestRequestUpdateAllQueuesBoth(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "1", "alpha", domain.ParsedMatches, domain.GameModeMwMp)
	tracker, enq := newTracker(h, domain.EnqueueAdded)

	msg, err := tracker.RequestUpdate(context.Background(), "1", domain.GameModeMwMp, domain.DataTypeAll)
	if err != nil {
		t.Fatal(err)
	}
	if msg != "stats and matches start update" {
		t.Errorf("message = %q", msg)
	}
	if len(enq.names) != 2 {
		t.Errorf("enqueued = %v, want stats and matches", enq.names)
	}
}

func TestRequestUpdateUnknownPlayer(t *testing.T) {
	h := newHarness(t)
	tracker, _ := newTracker(h, domain.EnqueueAdded)

	_, err := tracker.RequestUpdate(context.Background(), "404", domain.GameModeMwMp, domain.DataTypeMatches)
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("err = %v, want ErrTargetNotFound", err)
	}
}

func TestSetGameStatusRejectsAll(t *testing.T) {
	h := newHarness(t)
	h.addPlayer(t, "1", "alpha", domain.ParsedMatches)
	tracker, _ := newTracker(h, domain.EnqueueAdded)
	ctx := context.Background()

	if err := tracker.SetGameStatus(ctx, "1", domain.GameModeAll, domain.GameEnabled); err == nil {
		t.Fatal("expected rejection for mode all")
	}
	if err := tracker.SetGameStatus(ctx, "1", domain.GameModeCwMp, domain.GameEnabled); err != nil {
		t.Fatal(err)
	}
	games, err := h.games.Games(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if games.Get(domain.GameModeCwMp).Status != int(domain.GameEnabled) {
		t.Error("cw_mp not enabled")
	}
}
