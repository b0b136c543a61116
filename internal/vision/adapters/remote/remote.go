package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/babcialabs/babcia/internal/vision/domain"
)

const defaultTimeout = 20 * time.Second

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "remote"
}

func (f *Factory) New(cfg domain.AdapterConfig) (domain.Provider, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, domain.ErrInvalidConfig
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Provider{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    strings.TrimSpace(cfg.Model),
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Provider calls an external vision service over HTTP. Transport and 5xx
// failures surface as ErrUnavailable so callers can retry without
// consuming anything.
type Provider struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func (p *Provider) Name() string {
	return "remote"
}

type generateTasksPayload struct {
	Model    string `json:"model,omitempty"`
	AreaID   string `json:"area_id"`
	AreaName string `json:"area_name"`
	Persona  string `json:"persona"`
	PhotoRef string `json:"photo_ref"`
}

type generateTasksResult struct {
	Tasks []domain.TaskSuggestion `json:"tasks"`
}

func (p *Provider) GenerateTasks(ctx context.Context, req domain.GenerateTasksRequest) ([]domain.TaskSuggestion, error) {
	if strings.TrimSpace(req.PhotoRef) == "" {
		return nil, domain.ErrInvalidPhoto
	}

	payload := generateTasksPayload{
		Model:    p.model,
		AreaID:   req.AreaID.String(),
		AreaName: req.AreaName,
		Persona:  req.Persona,
		PhotoRef: req.PhotoRef,
	}

	var result generateTasksResult
	if err := p.post(ctx, "/v1/tasks/generate", payload, &result); err != nil {
		return nil, err
	}
	if len(result.Tasks) == 0 {
		return nil, nil
	}
	return domain.NormalizeSuggestions(result.Tasks), nil
}

type judgePayload struct {
	Model          string   `json:"model,omitempty"`
	BowlID         string   `json:"bowl_id"`
	AreaName       string   `json:"area_name"`
	Persona        string   `json:"persona"`
	Tier           string   `json:"tier"`
	Tasks          []string `json:"tasks"`
	BeforePhotoRef string   `json:"before_photo_ref"`
	AfterPhotoRef  string   `json:"after_photo_ref"`
}

func (p *Provider) Judge(ctx context.Context, req domain.JudgeRequest) (domain.Judgement, error) {
	if strings.TrimSpace(req.BeforePhotoRef) == "" || strings.TrimSpace(req.AfterPhotoRef) == "" {
		return domain.Judgement{}, domain.ErrInvalidPhoto
	}

	payload := judgePayload{
		Model:          p.model,
		BowlID:         req.BowlID.String(),
		AreaName:       req.AreaName,
		Persona:        req.Persona,
		Tier:           req.Tier,
		Tasks:          req.Tasks,
		BeforePhotoRef: req.BeforePhotoRef,
		AfterPhotoRef:  req.AfterPhotoRef,
	}

	var judgement domain.Judgement
	if err := p.post(ctx, "/v1/verifications/judge", payload, &judgement); err != nil {
		return domain.Judgement{}, err
	}
	if !judgement.Verdict.Valid() {
		return domain.Judgement{}, domain.ErrInvalidResponse
	}
	return judgement, nil
}

func (p *Provider) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return domain.ErrUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests:
		return domain.ErrUnavailable
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return domain.ErrInvalidConfig
	case resp.StatusCode >= http.StatusBadRequest:
		return domain.ErrInvalidResponse
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.ErrInvalidResponse
	}
	return nil
}
