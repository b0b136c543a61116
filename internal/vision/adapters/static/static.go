package static

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/babcialabs/babcia/internal/vision/domain"
)

// deck is the pool of chores the offline provider draws from.
var deck = []string{
	"Clear the floor of anything that does not live there",
	"Wipe the surfaces until they shine",
	"Take out the trash",
	"Put loose items back in their place",
	"Dust the shelves",
	"Straighten the textiles (beds, cushions, towels)",
	"Clean the sink",
	"Sweep or vacuum the corners",
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "static"
}

func (f *Factory) New(cfg domain.AdapterConfig) (domain.Provider, error) {
	return &Provider{}, nil
}

// Provider is the offline stand-in for a real vision model. It never
// fails and never touches the network: everything is derived from a hash
// of the request, so the same photo always produces the same answer.
type Provider struct{}

func (p *Provider) Name() string {
	return "static"
}

func (p *Provider) GenerateTasks(ctx context.Context, req domain.GenerateTasksRequest) ([]domain.TaskSuggestion, error) {
	if strings.TrimSpace(req.PhotoRef) == "" {
		return nil, domain.ErrInvalidPhoto
	}

	h := digest(req.AreaID.String(), req.AreaName, req.PhotoRef)

	// One photo in six reads as already clean and yields no tasks.
	count := int(h % 6)
	if count == 0 {
		return nil, nil
	}

	offset := int(h>>8) % len(deck)
	suggestions := make([]domain.TaskSuggestion, 0, count)
	for i := 0; i < count; i++ {
		suggestions = append(suggestions, domain.TaskSuggestion{
			Title:      deck[(offset+i)%len(deck)],
			PointValue: 1,
		})
	}
	return domain.NormalizeSuggestions(suggestions), nil
}

func (p *Provider) Judge(ctx context.Context, req domain.JudgeRequest) (domain.Judgement, error) {
	if strings.TrimSpace(req.BeforePhotoRef) == "" || strings.TrimSpace(req.AfterPhotoRef) == "" {
		return domain.Judgement{}, domain.ErrInvalidPhoto
	}

	h := digest(req.BowlID.String(), req.BeforePhotoRef, req.AfterPhotoRef)

	judgement := domain.Judgement{
		Verdict:    domain.VerdictPass,
		Confidence: 0.55 + float64(h%40)/100,
		Commentary: "the after photo shows real progress, well done",
	}
	if h%10 >= 7 {
		judgement.Verdict = domain.VerdictFail
		judgement.Commentary = "the area still needs work, compare the corners"
	}
	return judgement, nil
}

func digest(parts ...string) uint64 {
	h := fnv.New64a()
	for _, part := range parts {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
