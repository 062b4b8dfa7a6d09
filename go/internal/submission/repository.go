package submission

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/models"
	"github.com/kshah22/codeclash/go/internal/outbox"
	"github.com/kshah22/codeclash/go/internal/sqlutil"
)

const submissionColumns = `id, contest_id, team_id, problem_id, language, source_code,
	status, verdict, points_earned, max_points, solved, test_case_results,
	execution_time_ms, memory_kb, submitted_at, judged_at`

// Repository persists submissions. Writes that carry a domain event store
// the event in the same transaction.
type Repository struct {
	db     *sql.DB
	outbox *outbox.Repository
}

func NewRepository(db *sql.DB, outboxRepo *outbox.Repository) *Repository {
	return &Repository{
		db:     db,
		outbox: outboxRepo,
	}
}

func (r *Repository) CreateSubmission(ctx context.Context, s *models.Submission, evt EventRecord) (*models.Submission, error) {
	var created *models.Submission
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO submissions (id, contest_id, team_id, problem_id, language, source_code, status, points_earned, max_points, solved, submitted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, false, $9)
			 RETURNING `+submissionColumns,
			s.ID, s.ContestID, s.TeamID, s.ProblemID, s.Language, s.SourceCode, s.Status, s.MaxPoints, s.SubmittedAt,
		)
		var err error
		created, err = scanSubmission(row)
		if err != nil {
			return common.NewDatabaseError("CreateSubmission", err)
		}
		return r.outbox.WithTx(tx).Insert(ctx, s.ContestID, evt.Type, evt.Payload)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Repository) GetSubmission(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id,
	)
	s, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.Errorf("%w: submission %s", common.ErrNotFound, id)
		}
		return nil, common.NewDatabaseError("GetSubmission", err)
	}
	return s, nil
}

// ListJudgedByContest returns every judged submission for a contest in
// submission order, the standings aggregator's input.
func (r *Repository) ListJudgedByContest(ctx context.Context, contestID uuid.UUID) ([]models.Submission, error) {
	return r.listJudged(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE contest_id = $1 AND status = $2
		 ORDER BY submitted_at`,
		contestID, models.SubmissionStatusJudged,
	)
}

// ListJudgedByContestBefore is ListJudgedByContest restricted to
// submissions judged at or before the cutoff. Used to rebuild the table
// as it stood when a contest froze.
func (r *Repository) ListJudgedByContestBefore(ctx context.Context, contestID uuid.UUID, cutoff time.Time) ([]models.Submission, error) {
	return r.listJudged(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE contest_id = $1 AND status = $2 AND judged_at <= $3
		 ORDER BY submitted_at`,
		contestID, models.SubmissionStatusJudged, cutoff,
	)
}

func (r *Repository) listJudged(ctx context.Context, query string, args ...interface{}) ([]models.Submission, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewDatabaseError("ListJudgedByContest", err)
	}
	defer rows.Close()

	var out []models.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, common.NewDatabaseError("ListJudgedByContest", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewDatabaseError("ListJudgedByContest", err)
	}
	return out, nil
}

// MarkJudging flips a pending submission to judging. A submission past
// pending is left untouched.
func (r *Repository) MarkJudging(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE submissions SET status = $2 WHERE id = $1 AND status = $3`,
		id, models.SubmissionStatusJudging, models.SubmissionStatusPending,
	)
	if err != nil {
		return common.NewDatabaseError("MarkJudging", err)
	}
	return nil
}

// UpdateJudged records the scored verdict and stages the judged event in
// one transaction. Returns ErrConflict if the submission is already
// judged, which callers treat as an idempotent replay.
func (r *Repository) UpdateJudged(ctx context.Context, s *models.Submission, evt EventRecord) (*models.Submission, error) {
	results, err := sqlutil.ToNullRawMessage(s.TestCaseResults)
	if err != nil {
		return nil, common.NewDatabaseError("UpdateJudged", err)
	}

	var updated *models.Submission
	err = sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`UPDATE submissions
			 SET status = $2, verdict = $3, points_earned = $4, max_points = $5, solved = $6,
			     test_case_results = $7, execution_time_ms = $8, memory_kb = $9, judged_at = $10
			 WHERE id = $1 AND status != $2
			 RETURNING `+submissionColumns,
			s.ID, models.SubmissionStatusJudged, string(*s.Verdict), s.PointsEarned, s.MaxPoints, s.Solved,
			results, sqlutil.ToSqlInt32(s.ExecutionTimeMs), sqlutil.ToSqlInt32(s.MemoryKb), sqlutil.ToSqlTime(s.JudgedAt),
		)
		var err error
		updated, err = scanSubmission(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.Errorf("%w: submission %s is already judged", common.ErrConflict, s.ID)
			}
			return common.NewDatabaseError("UpdateJudged", err)
		}
		return r.outbox.WithTx(tx).Insert(ctx, s.ContestID, evt.Type, evt.Payload)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Repository) GetProblem(ctx context.Context, id uuid.UUID) (*models.Problem, error) {
	var p models.Problem
	err := r.db.QueryRowContext(ctx,
		`SELECT id, contest_id, title, max_points, created_at FROM problems WHERE id = $1`, id,
	).Scan(&p.ID, &p.ContestID, &p.Title, &p.MaxPoints, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.Errorf("%w: problem %s", common.ErrNotFound, id)
		}
		return nil, common.NewDatabaseError("GetProblem", err)
	}
	return &p, nil
}

// TestCaseWeights returns weight by test case id for a problem.
func (r *Repository) TestCaseWeights(ctx context.Context, problemID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, weight FROM test_cases WHERE problem_id = $1`, problemID,
	)
	if err != nil {
		return nil, common.NewDatabaseError("TestCaseWeights", err)
	}
	defer rows.Close()

	weights := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var weight int
		if err := rows.Scan(&id, &weight); err != nil {
			return nil, common.NewDatabaseError("TestCaseWeights", err)
		}
		weights[id] = weight
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewDatabaseError("TestCaseWeights", err)
	}
	return weights, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row rowScanner) (*models.Submission, error) {
	var s models.Submission
	var verdict sql.NullString
	var results pqtype.NullRawMessage
	var execMs, memKb sql.NullInt32
	var judgedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.ContestID, &s.TeamID, &s.ProblemID, &s.Language, &s.SourceCode,
		&s.Status, &verdict, &s.PointsEarned, &s.MaxPoints, &s.Solved, &results,
		&execMs, &memKb, &s.SubmittedAt, &judgedAt,
	)
	if err != nil {
		return nil, err
	}
	if verdict.Valid {
		v := models.Verdict(verdict.String)
		s.Verdict = &v
	}
	if err := sqlutil.FromNullRawMessage(results, &s.TestCaseResults); err != nil {
		return nil, err
	}
	s.ExecutionTimeMs = sqlutil.FromSqlInt32(execMs)
	s.MemoryKb = sqlutil.FromSqlInt32(memKb)
	s.JudgedAt = sqlutil.FromSqlTime(judgedAt)
	return &s, nil
}
