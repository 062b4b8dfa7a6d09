package standings

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/common"
	"github.com/kshah22/codeclash/go/internal/models"
)

// Repository reads the team roster the aggregator scores against.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListTeamsByContest(ctx context.Context, contestID uuid.UUID) ([]models.Team, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, contest_id, name, created_at FROM teams WHERE contest_id = $1 ORDER BY name`,
		contestID,
	)
	if err != nil {
		return nil, common.NewDatabaseError("ListTeamsByContest", err)
	}
	defer rows.Close()

	var out []models.Team
	for rows.Next() {
		var t models.Team
		if err := rows.Scan(&t.ID, &t.ContestID, &t.Name, &t.CreatedAt); err != nil {
			return nil, common.NewDatabaseError("ListTeamsByContest", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewDatabaseError("ListTeamsByContest", err)
	}
	return out, nil
}
