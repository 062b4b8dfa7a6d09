package contest

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/models"
	"github.com/kshah22/codeclash/go/internal/outbox"
	"github.com/kshah22/codeclash/go/internal/sqlutil"
)

const contestColumns = `id, slug, name, owner_id, start_time, duration_minutes,
	freeze_time_minutes, is_frozen, frozen_at, ended_at, created_at, updated_at`

// Repository persists contests. Lifecycle transitions write the contest
// row and the transition's outbox event in one transaction.
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

func (r *Repository) CreateContest(ctx context.Context, c *models.Contest, evt EventRecord) (*models.Contest, error) {
	var created *models.Contest
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`INSERT INTO contests (id, slug, name, owner_id, start_time, duration_minutes, freeze_time_minutes, is_frozen, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, false, now(), now())
			 RETURNING `+contestColumns,
			c.ID, c.Slug, c.Name, c.OwnerID, c.StartTime, c.DurationMinutes, c.FreezeTimeMinutes,
		)
		var err error
		created, err = scanContest(row)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return common.Errorf("%w: a contest with slug %q already exists", common.ErrConflict, c.Slug)
			}
			return common.NewDatabaseError("CreateContest", err)
		}
		return r.outbox.WithTx(tx).Insert(ctx, created.ID, evt.Type, evt.Payload)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Repository) GetContest(ctx context.Context, id uuid.UUID) (*models.Contest, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE id = $1`, id,
	)
	c, err := scanContest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.Errorf("%w: contest %s", common.ErrNotFound, id)
		}
		return nil, common.NewDatabaseError("GetContest", err)
	}
	return c, nil
}

func (r *Repository) ListContests(ctx context.Context) ([]models.Contest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contestColumns+` FROM contests ORDER BY start_time DESC`,
	)
	if err != nil {
		return nil, common.NewDatabaseError("ListContests", err)
	}
	defer rows.Close()

	var out []models.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, common.NewDatabaseError("ListContests", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewDatabaseError("ListContests", err)
	}
	return out, nil
}

func (r *Repository) StartContest(ctx context.Context, id uuid.UUID, startTime time.Time, evt EventRecord) (*models.Contest, error) {
	return r.transition(ctx, id, evt, "StartContest",
		`UPDATE contests SET start_time = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING `+contestColumns,
		startTime,
	)
}

func (r *Repository) FreezeContest(ctx context.Context, id uuid.UUID, frozenAt time.Time, evt EventRecord) (*models.Contest, error) {
	return r.transition(ctx, id, evt, "FreezeContest",
		`UPDATE contests SET is_frozen = true, frozen_at = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING `+contestColumns,
		frozenAt,
	)
}

func (r *Repository) UnfreezeContest(ctx context.Context, id uuid.UUID, evt EventRecord) (*models.Contest, error) {
	return r.transition(ctx, id, evt, "UnfreezeContest",
		`UPDATE contests SET is_frozen = false, frozen_at = NULL, updated_at = now()
		 WHERE id = $1
		 RETURNING `+contestColumns,
	)
}

func (r *Repository) EndContest(ctx context.Context, id uuid.UUID, durationMinutes int, endedAt time.Time, evt EventRecord) (*models.Contest, error) {
	return r.transition(ctx, id, evt, "EndContest",
		`UPDATE contests SET duration_minutes = $2, ended_at = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+contestColumns,
		durationMinutes, endedAt,
	)
}

// transition runs a lifecycle update and stages its event atomically.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, evt EventRecord, op, query string, args ...interface{}) (*models.Contest, error) {
	var updated *models.Contest
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		queryArgs := append([]interface{}{id}, args...)
		row := tx.QueryRowContext(ctx, query, queryArgs...)
		var err error
		updated, err = scanContest(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.Errorf("%w: contest %s", common.ErrNotFound, id)
			}
			return common.NewDatabaseError(op, err)
		}
		return r.outbox.WithTx(tx).Insert(ctx, id, evt.Type, evt.Payload)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *Repository) CountProblems(ctx context.Context, contestID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM problems WHERE contest_id = $1`, contestID,
	).Scan(&count)
	if err != nil {
		return 0, common.NewDatabaseError("CountProblems", err)
	}
	return count, nil
}

// ListProblemsWithoutTestCases returns the contest's problems that have no
// test cases, for readiness validation messages.
func (r *Repository) ListProblemsWithoutTestCases(ctx context.Context, contestID uuid.UUID) ([]models.Problem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, p.contest_id, p.title, p.max_points, p.created_at
		 FROM problems p
		 LEFT JOIN test_cases tc ON tc.problem_id = p.id
		 WHERE p.contest_id = $1
		 GROUP BY p.id, p.contest_id, p.title, p.max_points, p.created_at
		 HAVING COUNT(tc.id) = 0
		 ORDER BY p.title`,
		contestID,
	)
	if err != nil {
		return nil, common.NewDatabaseError("ListProblemsWithoutTestCases", err)
	}
	defer rows.Close()

	var out []models.Problem
	for rows.Next() {
		var p models.Problem
		if err := rows.Scan(&p.ID, &p.ContestID, &p.Title, &p.MaxPoints, &p.CreatedAt); err != nil {
			return nil, common.NewDatabaseError("ListProblemsWithoutTestCases", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewDatabaseError("ListProblemsWithoutTestCases", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanContest(row rowScanner) (*models.Contest, error) {
	var c models.Contest
	var frozenAt, endedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.Slug, &c.Name, &c.OwnerID, &c.StartTime, &c.DurationMinutes,
		&c.FreezeTimeMinutes, &c.IsFrozen, &frozenAt, &endedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.FrozenAt = sqlutil.FromSqlTime(frozenAt)
	c.EndedAt = sqlutil.FromSqlTime(endedAt)
	return &c, nil
}
