// Package captcha talks to the 2captcha service to obtain reCAPTCHA v3
// response tokens for the portal's login challenge.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/network"
	"github.com/anibalchinley/extractor-proveedores/internal/platform"
)

// notReadyCode is the service's answer while workers are still solving.
const notReadyCode = "CAPCHA_NOT_READY"

// Client submits recaptcha tasks and polls for their solution. Polling runs
// through the shared retry policy: a pending task is a not-ready condition,
// re-checked on a fixed cadence until the solve timeout expires.
type Client struct {
	cfg        config.CaptchaConfig
	httpClient *http.Client
	log        *zap.Logger
}

// New builds a 2captcha client from configuration.
func New(cfg config.CaptchaConfig, log *zap.Logger) *Client {
	log = log.Named("captcha")
	return &Client{
		cfg:        cfg,
		httpClient: network.NewClient(network.DefaultClientConfig(), log),
		log:        log,
	}
}

// apiResponse is the JSON envelope both endpoints answer with. Status 1 means
// Request carries the payload (task id or token); status 0 means Request
// carries an error code.
type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the site key and blocks until 2captcha produces a token or
// the configured solve timeout passes.
func (c *Client) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SolveTimeout)
	defer cancel()

	start := time.Now()
	id, err := c.submit(ctx, siteKey, pageURL)
	if err != nil {
		return "", err
	}
	c.log.Info("Captcha task submitted", zap.String("task_id", id))

	var token string
	budget := c.pollBudget()
	attempts, err := platform.Do(ctx, budget, func(ctx context.Context) error {
		t, err := c.fetchToken(ctx, id)
		if err != nil {
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("captcha task %s unsolved after %d polls: %w", id, attempts, err)
	}

	c.log.Info("Captcha solved",
		zap.String("task_id", id),
		zap.Int("polls", attempts),
		zap.Duration("took", time.Since(start)))
	return token, nil
}

// pollBudget converts the solve timeout and poll interval into a fixed-delay
// retry budget.
func (c *Client) pollBudget() platform.Budget {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	attempts := int(c.cfg.SolveTimeout/interval) + 1
	if attempts < 1 {
		attempts = 1
	}
	return platform.Budget{
		MaxAttempts: attempts,
		BaseDelay:   interval,
		Multiplier:  1,
		MaxDelay:    interval,
	}
}

// submit registers the solving task and returns its id.
func (c *Client) submit(ctx context.Context, siteKey, pageURL string) (string, error) {
	form := url.Values{
		"key":       {c.cfg.APIKey},
		"method":    {"userrecaptcha"},
		"googlekey": {siteKey},
		"pageurl":   {pageURL},
		"version":   {"v3"},
		"action":    {c.cfg.Action},
		"min_score": {strconv.FormatFloat(c.cfg.MinScore, 'f', -1, 64)},
		"json":      {"1"},
	}

	res, err := c.post(ctx, c.cfg.BaseURL+"/in.php", form)
	if err != nil {
		return "", fmt.Errorf("submit captcha task: %w", err)
	}
	if res.Status != 1 {
		return "", fmt.Errorf("captcha service rejected task: %s", res.Request)
	}
	return res.Request, nil
}

// fetchToken asks for the task result once. A still-pending task reports
// ErrNotReady so the retry loop keeps polling.
func (c *Client) fetchToken(ctx context.Context, id string) (string, error) {
	q := url.Values{
		"key":    {c.cfg.APIKey},
		"action": {"get"},
		"id":     {id},
		"json":   {"1"},
	}

	res, err := c.get(ctx, c.cfg.BaseURL+"/res.php?"+q.Encode())
	if err != nil {
		return "", fmt.Errorf("poll captcha task %s: %w", id, err)
	}
	if res.Status == 1 {
		return res.Request, nil
	}
	if res.Request == notReadyCode {
		return "", fmt.Errorf("task %s pending: %w", id, platform.ErrNotReady)
	}
	return "", fmt.Errorf("captcha service failed task %s: %s", id, res.Request)
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, endpoint string) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*apiResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("captcha service returned status %d", resp.StatusCode)
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode captcha response: %w", err)
	}
	return &out, nil
}
