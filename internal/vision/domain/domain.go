package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrUnavailable signals a transient provider failure. Callers may
	// retry; nothing was consumed.
	ErrUnavailable = errors.New("vision_unavailable")

	ErrProviderNotFound = errors.New("vision_provider_not_found")
	ErrInvalidConfig    = errors.New("vision_invalid_config")
	ErrInvalidPhoto     = errors.New("vision_invalid_photo")
	ErrInvalidResponse  = errors.New("vision_invalid_response")
)

// MaxTasksPerBowl caps a generated batch. Providers returning more are
// clamped at this boundary so the rest of the system never sees it.
const MaxTasksPerBowl = 5

// TaskSuggestion is one chore proposed from an area photo.
type TaskSuggestion struct {
	Title      string `json:"title"`
	PointValue int64  `json:"point_value"`
}

type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

func (v Verdict) Valid() bool {
	return v == VerdictPass || v == VerdictFail
}

type GenerateTasksRequest struct {
	AreaID   snowflake.ID
	AreaName string
	Persona  string
	PhotoRef string
}

type JudgeRequest struct {
	BowlID         snowflake.ID
	AreaName       string
	Persona        string
	Tier           string
	Tasks          []string
	BeforePhotoRef string
	AfterPhotoRef  string
}

// Judgement is the provider's decision on a before/after pair. Both
// verdicts are valid outcomes, never errors.
type Judgement struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Commentary string  `json:"commentary"`
}

// Provider looks at photos. An empty suggestion slice from GenerateTasks
// means the area already looks done and no bowl should be created.
type Provider interface {
	Name() string
	GenerateTasks(ctx context.Context, req GenerateTasksRequest) ([]TaskSuggestion, error)
	Judge(ctx context.Context, req JudgeRequest) (Judgement, error)
}

type AdapterConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

type Factory interface {
	Provider() string
	New(cfg AdapterConfig) (Provider, error)
}

// NormalizeSuggestions drops blank titles, defaults point values to 1 and
// clamps the batch to MaxTasksPerBowl.
func NormalizeSuggestions(suggestions []TaskSuggestion) []TaskSuggestion {
	out := make([]TaskSuggestion, 0, len(suggestions))
	for _, s := range suggestions {
		title := strings.TrimSpace(s.Title)
		if title == "" {
			continue
		}
		points := s.PointValue
		if points <= 0 {
			points = 1
		}
		out = append(out, TaskSuggestion{Title: title, PointValue: points})
		if len(out) == MaxTasksPerBowl {
			break
		}
	}
	return out
}
