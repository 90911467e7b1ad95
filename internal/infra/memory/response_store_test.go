package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"allais-survey-service/internal/domain"
)

func stored(worker, assignment, code string, at time.Time) domain.StoredResponse {
	return domain.StoredResponse{
		ID:             worker + "-" + assignment,
		CompletionCode: code,
		CreatedAt:      at,
		ClassifiedResponse: domain.ClassifiedResponse{
			ExperimentID:   "exp-1",
			WorkerID:       worker,
			AssignmentID:   assignment,
			FailureReasons: domain.NewFailureSet(),
		},
	}
}

func TestResponseStoreRejectsSecondInsertForKey(t *testing.T) {
	s := NewResponseStore()
	ctx := context.Background()
	now := time.Now()

	if err := s.Insert(ctx, stored("W1", "A1", "STUDYAAAA001", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.Insert(ctx, stored("W1", "A1", "STUDYBBBB002", now))
	if !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	// same worker, other assignment is a different participant key
	if err := s.Insert(ctx, stored("W1", "A2", "STUDYCCCC003", now)); err != nil {
		t.Fatalf("insert other assignment: %v", err)
	}

	rs, _ := s.FindByWorker(ctx, "W1")
	if len(rs) != 2 {
		t.Fatalf("expected 2 responses for worker, got %d", len(rs))
	}
}

func TestResponseStoreRejectsTakenCompletionCode(t *testing.T) {
	s := NewResponseStore()
	ctx := context.Background()

	if err := s.Insert(ctx, stored("W1", "A1", "STUDYAAAA001", time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.Insert(ctx, stored("W2", "A2", "STUDYAAAA001", time.Now()))
	if !errors.Is(err, domain.ErrCompletionCodeTaken) {
		t.Fatalf("expected code taken error, got %v", err)
	}
	if rs, _ := s.FindByWorker(ctx, "W2"); len(rs) != 0 {
		t.Fatalf("expected nothing stored for W2")
	}
}

func TestResponseStoreRecordDuplicate(t *testing.T) {
	s := NewResponseStore()
	ctx := context.Background()
	key := domain.ParticipantKey{WorkerID: "W1", AssignmentID: "A1"}

	if err := s.RecordDuplicate(ctx, key); !errors.Is(err, domain.ErrResponseNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_ = s.Insert(ctx, stored("W1", "A1", "STUDYAAAA001", time.Now()))
	_ = s.RecordDuplicate(ctx, key)
	_ = s.RecordDuplicate(ctx, key)

	rs, _ := s.FindByParticipant(ctx, key)
	if len(rs) != 1 || rs[0].DuplicateAttempts != 2 {
		t.Fatalf("expected 2 duplicate attempts, got %+v", rs)
	}
}

func TestResponseStoreCodesAndRecent(t *testing.T) {
	s := NewResponseStore()
	ctx := context.Background()
	base := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

	_ = s.Insert(ctx, stored("W1", "A1", "STUDYAAAA001", base))
	_ = s.Insert(ctx, stored("W2", "A2", "STUDYAAAA002", base.Add(time.Minute)))
	_ = s.Insert(ctx, stored("W3", "A3", "STUDYAAAA003", base.Add(2*time.Minute)))

	if ok, _ := s.CodeExists(ctx, "STUDYAAAA002"); !ok {
		t.Fatalf("expected code to exist")
	}
	if ok, _ := s.CodeExists(ctx, "STUDYZZZZ999"); ok {
		t.Fatalf("expected unknown code")
	}

	recent, _ := s.Recent(ctx, "exp-1", 2)
	if len(recent) != 2 || recent[0].WorkerID != "W3" || recent[1].WorkerID != "W2" {
		t.Fatalf("unexpected recent order: %+v", recent)
	}
}
