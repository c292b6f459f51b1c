package polling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/inkflow-ai/inkflow/internal/clock"
	"github.com/inkflow-ai/inkflow/internal/config"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"github.com/inkflow-ai/inkflow/internal/tokencache"
)

// RemoteJob is the provider's view of a submitted job.
type RemoteJob struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// JobsAPI is the long-running job provider surface.
type JobsAPI interface {
	Submit(ctx context.Context, req *generationdomain.GenerationRequest) (string, error)
	Check(ctx context.Context, externalJobID string) (*RemoteJob, error)
}

// apiError carries the remote status so the monitor can separate transient
// failures (retry) from terminal ones (fail the request).
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("job api returned status %d: %s", e.Status, e.Message)
}

// isTransient reports whether an error is worth retrying: network failures,
// rate limits and server errors. Any other 4xx is terminal.
func isTransient(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return true
}

type httpClient struct {
	cfg    config.PollingConfig
	client *http.Client
	tokens *tokencache.Cache
}

// NewJobsAPI builds the bearer-authenticated HTTP client for the job
// provider.
func NewJobsAPI(cfg config.Config, clk clock.Clock) JobsAPI {
	c := &httpClient{
		cfg:    cfg.Polling,
		client: &http.Client{Timeout: cfg.Polling.RequestTimeout},
	}
	c.tokens = tokencache.New(c.fetchToken, clk)
	return c
}

func (c *httpClient) Submit(ctx context.Context, req *generationdomain.GenerationRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"type":   string(req.Type),
		"params": map[string]any(req.Params),
		"model":  req.Model,
	})
	if err != nil {
		return "", err
	}

	var job RemoteJob
	if err := c.do(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/jobs", body, &job); err != nil {
		return "", err
	}
	if strings.TrimSpace(job.ID) == "" {
		return "", errors.New("job api returned no job id")
	}
	return job.ID, nil
}

func (c *httpClient) Check(ctx context.Context, externalJobID string) (*RemoteJob, error) {
	var job RemoteJob
	endpoint := c.cfg.BaseURL + "/v1/jobs/" + url.PathEscape(externalJobID)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// do issues an authenticated request, refreshing the token once on a 401.
func (c *httpClient) do(ctx context.Context, method, endpoint string, body []byte, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.EnsureValid(ctx)
		if err != nil {
			return err
		}

		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			resp.Body.Close()
			c.tokens.Invalidate()
			continue
		}

		err = decodeResponse(resp, out)
		resp.Body.Close()
		return err
	}
	return &apiError{Status: http.StatusUnauthorized, Message: "token refresh did not clear 401"}
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var detail struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		message := detail.Error
		if message == "" {
			message = detail.Message
		}
		return &apiError{Status: resp.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &apiError{Status: resp.StatusCode, Message: "malformed response body"}
	}
	return nil
}

func (c *httpClient) fetchToken(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", time.Time{}, &apiError{Status: resp.StatusCode, Message: "token endpoint rejected credentials"}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return "", time.Time{}, err
	}
	if grant.AccessToken == "" {
		return "", time.Time{}, errors.New("token endpoint returned no access token")
	}
	return grant.AccessToken, time.Now().UTC().Add(time.Duration(grant.ExpiresIn) * time.Second), nil
}
