package domain

import (
	"context"
	"errors"

	"github.com/babcialabs/babcia/pkg/db/pagination"
)

var (
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidID        = errors.New("invalid_bowl_id")
	ErrInvalidAreaID    = errors.New("invalid_area_id")
	ErrInvalidTier      = errors.New("invalid_verification_tier")
	ErrMissingPhoto     = errors.New("missing_photo")
	ErrNotFound         = errors.New("bowl_not_found")
	ErrTaskNotFound     = errors.New("task_not_found")
	ErrNoTasksGenerated = errors.New("no_tasks_generated")

	// ErrInvalidTransition rejects any operation the bowl's current
	// state does not allow, including a second finalization.
	ErrInvalidTransition = errors.New("invalid_transition")

	// ErrNotEligible means the golden gate said no. The bowl is
	// untouched; the caller may request blue instead.
	ErrNotEligible = errors.New("not_eligible")

	// ErrJudgeUnavailable is a delivery failure, not a verdict. The
	// bowl stays awaiting and the same photos may be resubmitted.
	ErrJudgeUnavailable = errors.New("judge_unavailable")
)

// CreateBowlRequest turns a messy-area photo into a fresh bowl of
// tasks. When the vision provider finds nothing to clean, no bowl is
// created and the caller is told to retake the photo.
type CreateBowlRequest struct {
	AreaID              string `json:"area_id"`
	PhotoRef            string `json:"photo_ref"`
	VerificationEnabled bool   `json:"verification_enabled"`
}

type SubmitVerificationRequest struct {
	BowlID         string `json:"-"`
	BeforePhotoRef string `json:"before_photo_ref"`
	AfterPhotoRef  string `json:"after_photo_ref"`
}

type ListBowlsRequest struct {
	AreaID    string     `form:"area_id"`
	State     *BowlState `form:"state"`
	PageSize  int        `form:"page_size"`
	PageToken string     `form:"page_token"`
}

type ListBowlsResponse struct {
	Bowls    []Bowl              `json:"bowls"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

// BowlDetail is a bowl with its task batch and, once judged, the
// verification attempt.
type BowlDetail struct {
	Bowl    Bowl                 `json:"bowl"`
	Tasks   []Task               `json:"tasks"`
	Attempt *VerificationAttempt `json:"attempt,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateBowlRequest) (BowlDetail, error)
	GetByID(ctx context.Context, id string) (BowlDetail, error)
	List(ctx context.Context, req ListBowlsRequest) (ListBowlsResponse, error)

	// TickTask marks one task done and credits its point value. Ticking
	// the last open task moves the bowl to all_tasks_complete. Ticks are
	// one-way; re-ticking a done task is ErrInvalidTransition.
	TickTask(ctx context.Context, bowlID, taskID string) (BowlDetail, error)

	// FinishWithoutVerifying settles the bowl at its base total. No
	// ledger entry is written; the task ticks already paid it out.
	FinishWithoutVerifying(ctx context.Context, bowlID string) (BowlDetail, error)

	// RequestVerification moves an all-tasks-complete bowl into the
	// awaiting-photo state. Golden runs the eligibility gate first and
	// leaves the bowl untouched on refusal.
	RequestVerification(ctx context.Context, bowlID string, tier VerificationTier) (BowlDetail, error)

	// SubmitVerification sends before/after photos to the judge. The
	// judge is consulted exactly once per bowl: a verdict finalizes it
	// atomically, an unavailable judge changes nothing and the caller
	// may resubmit.
	SubmitVerification(ctx context.Context, req SubmitVerificationRequest) (BowlDetail, error)

	// AbandonVerification backs out of the awaiting-photo state. The
	// bowl returns to all_tasks_complete and keeps every path open.
	AbandonVerification(ctx context.Context, bowlID string) (BowlDetail, error)
}
