package scoring

import (
	"github.com/google/uuid"

	"github.com/kshah22/codeclash/go/internal/models"
)

// VerdictPayload is what judges report back, over the results stream or
// the webhook. A "judging" status is a pickup signal with no verdict; a
// "judged" status carries the verdict and per-test-case results.
type VerdictPayload struct {
	SubmissionID    uuid.UUID               `json:"submission_id"`
	Status          models.SubmissionStatus `json:"status"`
	Verdict         models.Verdict          `json:"verdict,omitempty"`
	TestCaseResults []models.TestCaseResult `json:"test_case_results,omitempty"`
	CompileOutput   *string                 `json:"compile_output,omitempty"`
	ExecutionTimeMs *int                    `json:"execution_time_ms,omitempty"`
	MemoryKb        *int                    `json:"memory_kb,omitempty"`
}

var knownVerdicts = map[models.Verdict]bool{
	models.VerdictAccepted:            true,
	models.VerdictWrongAnswer:         true,
	models.VerdictTimeLimitExceeded:   true,
	models.VerdictMemoryLimitExceeded: true,
	models.VerdictCompilationError:    true,
	models.VerdictRuntimeError:        true,
	models.VerdictSystemError:         true,
}
