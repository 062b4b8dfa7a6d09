package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/dbconfig"
)

// Fixture mirrors the JSON snapshot structure
type Fixture struct {
	Contest  Contest   `json:"contest"`
	Teams    []Team    `json:"teams"`
	Problems []Problem `json:"problems"`
}

type Contest struct {
	ID                string `json:"id"`
	Slug              string `json:"slug"`
	Name              string `json:"name"`
	OwnerID           string `json:"owner_id"`
	StartTime         string `json:"start_time"`
	DurationMinutes   int    `json:"duration_minutes"`
	FreezeTimeMinutes int    `json:"freeze_time_minutes"`
}

type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Problem struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	MaxPoints int        `json:"max_points"`
	TestCases []TestCase `json:"test_cases"`
}

type TestCase struct {
	ID     string `json:"id"`
	Weight int    `json:"weight"`
}

func main() {
	// 1) Load the JSON fixture
	path := "go/internal/assets/contest.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var fixture Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert contest, teams, problems and test cases
	var (
		inserted int
		skipped  int
		errs     int
	)

	c := fixture.Contest
	cmdTag, err := pool.Exec(ctx, `
        INSERT INTO contests (
          id, slug, name, owner_id, start_time,
          duration_minutes, freeze_time_minutes, is_frozen, created_at, updated_at
        ) VALUES (
          $1,$2,$3,$4,$5,$6,$7,false,now(),now()
        )
        ON CONFLICT (id) DO NOTHING
    `,
		c.ID, c.Slug, c.Name, c.OwnerID, c.StartTime,
		c.DurationMinutes, c.FreezeTimeMinutes,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error inserting contest %s: %v\n", c.ID, err)
		errs++
	} else if cmdTag.RowsAffected() == 1 {
		inserted++
	} else {
		skipped++
	}

	for _, t := range fixture.Teams {
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO teams (id, contest_id, name, created_at)
            VALUES ($1,$2,$3,now())
            ON CONFLICT (id) DO NOTHING
        `,
			t.ID, c.ID, t.Name,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting team %s: %v\n", t.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	for _, p := range fixture.Problems {
		cmdTag, err := pool.Exec(ctx, `
            INSERT INTO problems (id, contest_id, title, max_points, created_at)
            VALUES ($1,$2,$3,$4,now())
            ON CONFLICT (id) DO NOTHING
        `,
			p.ID, c.ID, p.Title, p.MaxPoints,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting problem %s: %v\n", p.ID, err)
			errs++
			continue
		}
		if cmdTag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}

		for _, tc := range p.TestCases {
			cmdTag, err := pool.Exec(ctx, `
                INSERT INTO test_cases (id, problem_id, weight)
                VALUES ($1,$2,$3)
                ON CONFLICT (id) DO NOTHING
            `,
				tc.ID, p.ID, tc.Weight,
			)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error inserting test case %s: %v\n", tc.ID, err)
				errs++
				continue
			}
			if cmdTag.RowsAffected() == 1 {
				inserted++
			} else {
				skipped++
			}
		}
	}

	// 4) Mint dev tokens so the seeded contest is usable immediately
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret"
	}
	authn := auth.New([]byte(secret))

	ownerID, err := uuid.Parse(c.OwnerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid owner id %s: %v\n", c.OwnerID, err)
		os.Exit(1)
	}
	adminToken, err := authn.GenerateToken(ownerID, auth.RoleAdmin, 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mint admin token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("admin %s: %s\n", c.OwnerID, adminToken)

	for _, t := range fixture.Teams {
		teamID, err := uuid.Parse(t.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid team id %s: %v\n", t.ID, err)
			errs++
			continue
		}
		token, err := authn.GenerateToken(teamID, auth.RoleTeam, 24*time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mint token for team %s: %v\n", t.ID, err)
			errs++
			continue
		}
		fmt.Printf("team %s (%s): %s\n", t.Name, t.ID, token)
	}

	// 5) Print summary
	fmt.Printf(
		"Contest seed complete: %d inserted, %d skipped, %d errors\n",
		inserted, skipped, errs,
	)
}
