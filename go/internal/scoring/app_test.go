package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/models"
	"github.com/kshah22/codeclash/go/internal/submission"
)

type fakeSubmissionStore struct {
	submissions map[uuid.UUID]*models.Submission
	weights     map[uuid.UUID]map[uuid.UUID]int
	events      []submission.EventRecord
	updateCalls int
}

func newFakeStore() *fakeSubmissionStore {
	return &fakeSubmissionStore{
		submissions: make(map[uuid.UUID]*models.Submission),
		weights:     make(map[uuid.UUID]map[uuid.UUID]int),
	}
}

func (f *fakeSubmissionStore) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	s, ok := f.submissions[id]
	if !ok {
		return nil, common.Errorf("%w: submission %s", common.ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubmissionStore) TestCaseWeights(ctx context.Context, problemID uuid.UUID) (map[uuid.UUID]int, error) {
	return f.weights[problemID], nil
}

func (f *fakeSubmissionStore) UpdateJudged(ctx context.Context, s *models.Submission, evt submission.EventRecord) (*models.Submission, error) {
	stored, ok := f.submissions[s.ID]
	if !ok {
		return nil, common.Errorf("%w: submission %s", common.ErrNotFound, s.ID)
	}
	if stored.Status == models.SubmissionStatusJudged {
		return nil, common.Errorf("%w: submission %s is already judged", common.ErrConflict, s.ID)
	}
	cp := *s
	f.submissions[s.ID] = &cp
	f.events = append(f.events, evt)
	f.updateCalls++
	out := cp
	return &out, nil
}

func (f *fakeSubmissionStore) MarkJudging(ctx context.Context, id uuid.UUID) error {
	s, ok := f.submissions[id]
	if !ok {
		return common.Errorf("%w: submission %s", common.ErrNotFound, id)
	}
	if s.Status == models.SubmissionStatusPending {
		s.Status = models.SubmissionStatusJudging
	}
	return nil
}

var judgeBase = time.Date(2025, 10, 4, 13, 0, 0, 0, time.UTC)

func seedPending(store *fakeSubmissionStore) (*models.Submission, []uuid.UUID) {
	problemID := uuid.New()
	caseIDs := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	store.weights[problemID] = map[uuid.UUID]int{
		caseIDs[0]: 25, caseIDs[1]: 25, caseIDs[2]: 25, caseIDs[3]: 25,
	}
	s := &models.Submission{
		ID:          uuid.New(),
		ContestID:   uuid.New(),
		TeamID:      uuid.New(),
		ProblemID:   problemID,
		Language:    "go",
		Status:      models.SubmissionStatusPending,
		MaxPoints:   100,
		SubmittedAt: judgeBase.Add(-time.Minute),
	}
	store.submissions[s.ID] = s
	return s, caseIDs
}

func verdictFor(s *models.Submission, verdict models.Verdict, results []models.TestCaseResult) VerdictPayload {
	return VerdictPayload{
		SubmissionID:    s.ID,
		Status:          models.SubmissionStatusJudged,
		Verdict:         verdict,
		TestCaseResults: results,
	}
}

func TestProcessResultScoresAndRecordsEvent(t *testing.T) {
	store := newFakeStore()
	app := NewApp(store, clockwork.NewFakeClockAt(judgeBase))
	s, caseIDs := seedPending(store)

	results := []models.TestCaseResult{
		{TestCaseID: caseIDs[0], Passed: true},
		{TestCaseID: caseIDs[1], Passed: true},
		{TestCaseID: caseIDs[2], Passed: true},
		{TestCaseID: caseIDs[3], Passed: false},
	}
	if err := app.ProcessResult(context.Background(), verdictFor(s, models.VerdictWrongAnswer, results)); err != nil {
		t.Fatalf("ProcessResult: %v", err)
	}

	judged := store.submissions[s.ID]
	if judged.Status != models.SubmissionStatusJudged {
		t.Errorf("status = %q, want judged", judged.Status)
	}
	if judged.PointsEarned != 75 || judged.Solved {
		t.Errorf("score = %d/%v, want 75 not solved", judged.PointsEarned, judged.Solved)
	}
	if judged.JudgedAt == nil || !judged.JudgedAt.Equal(judgeBase) {
		t.Errorf("judged_at = %v, want clock now", judged.JudgedAt)
	}
	for _, res := range judged.TestCaseResults {
		if res.Weight != 25 {
			t.Errorf("stored result weight = %d, want aligned to the problem", res.Weight)
		}
	}
	if len(store.events) != 1 || store.events[0].Type != "SubmissionJudged" {
		t.Errorf("events = %+v, want one SubmissionJudged", store.events)
	}
}

func TestProcessResultIsIdempotent(t *testing.T) {
	store := newFakeStore()
	app := NewApp(store, clockwork.NewFakeClockAt(judgeBase))
	s, caseIDs := seedPending(store)

	full := []models.TestCaseResult{
		{TestCaseID: caseIDs[0], Passed: true},
		{TestCaseID: caseIDs[1], Passed: true},
		{TestCaseID: caseIDs[2], Passed: true},
		{TestCaseID: caseIDs[3], Passed: true},
	}
	if err := app.ProcessResult(context.Background(), verdictFor(s, models.VerdictAccepted, full)); err != nil {
		t.Fatalf("first verdict: %v", err)
	}
	first := *store.submissions[s.ID]

	// Redelivered and even contradictory verdicts must not change anything.
	if err := app.ProcessResult(context.Background(), verdictFor(s, models.VerdictAccepted, full)); err != nil {
		t.Fatalf("duplicate verdict: %v", err)
	}
	if err := app.ProcessResult(context.Background(), verdictFor(s, models.VerdictWrongAnswer, full[:1])); err != nil {
		t.Fatalf("contradictory verdict: %v", err)
	}

	after := *store.submissions[s.ID]
	if after.PointsEarned != first.PointsEarned || after.Solved != first.Solved || *after.Verdict != *first.Verdict {
		t.Errorf("replay changed the submission: %+v vs %+v", after, first)
	}
	if store.updateCalls != 1 {
		t.Errorf("update calls = %d, want 1", store.updateCalls)
	}
	if len(store.events) != 1 {
		t.Errorf("events = %d, want the first verdict only", len(store.events))
	}
}

func TestProcessResultCompilationFailure(t *testing.T) {
	store := newFakeStore()
	app := NewApp(store, clockwork.NewFakeClockAt(judgeBase))
	s, _ := seedPending(store)

	msg := "main.go:3: undefined: fmt.Printn"
	payload := VerdictPayload{
		SubmissionID:  s.ID,
		Status:        models.SubmissionStatusJudged,
		Verdict:       models.VerdictCompilationError,
		CompileOutput: &msg,
	}
	if err := app.ProcessResult(context.Background(), payload); err != nil {
		t.Fatalf("ProcessResult: %v", err)
	}

	judged := store.submissions[s.ID]
	if judged.PointsEarned != 0 || judged.Solved {
		t.Errorf("score = %d/%v, want 0 not solved", judged.PointsEarned, judged.Solved)
	}
	if len(judged.TestCaseResults) != 4 {
		t.Fatalf("results = %d, want one failed result per test case", len(judged.TestCaseResults))
	}
	for _, res := range judged.TestCaseResults {
		if res.Passed || res.Error == nil || *res.Error != msg {
			t.Errorf("result %+v, want failed with the compiler message", res)
		}
	}
}

func TestProcessResultJudgingPickup(t *testing.T) {
	store := newFakeStore()
	app := NewApp(store, clockwork.NewFakeClockAt(judgeBase))
	s, _ := seedPending(store)

	payload := VerdictPayload{SubmissionID: s.ID, Status: models.SubmissionStatusJudging}
	if err := app.ProcessResult(context.Background(), payload); err != nil {
		t.Fatalf("ProcessResult: %v", err)
	}
	if got := store.submissions[s.ID].Status; got != models.SubmissionStatusJudging {
		t.Errorf("status = %q, want judging", got)
	}
	if len(store.events) != 0 {
		t.Errorf("pickup signal produced events: %+v", store.events)
	}
}

func TestProcessResultRejectsUnknownVerdict(t *testing.T) {
	store := newFakeStore()
	app := NewApp(store, clockwork.NewFakeClockAt(judgeBase))
	s, _ := seedPending(store)

	payload := VerdictPayload{
		SubmissionID: s.ID,
		Status:       models.SubmissionStatusJudged,
		Verdict:      models.Verdict("Crashed"),
	}
	err := app.ProcessResult(context.Background(), payload)
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if store.submissions[s.ID].Status != models.SubmissionStatusPending {
		t.Error("unknown verdict must not change the submission")
	}
}

func TestProcessResultUnknownSubmission(t *testing.T) {
	store := newFakeStore()
	app := NewApp(store, clockwork.NewFakeClockAt(judgeBase))

	payload := VerdictPayload{
		SubmissionID: uuid.New(),
		Status:       models.SubmissionStatusJudged,
		Verdict:      models.VerdictAccepted,
	}
	if err := app.ProcessResult(context.Background(), payload); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
