package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Cloudflare v4 API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// maxErrorBody bounds how much of an error response is kept for reporting.
const maxErrorBody = 4096

// RulesetClient defines the operations needed on a zone's rulesets.
type RulesetClient interface {
	FindZoneRulesetID(ctx context.Context, zoneID string) (string, bool, error)
	ListRules(ctx context.Context, handle domain.RulesetHandle) ([]domain.RemoteRule, error)
	CreateRule(ctx context.Context, handle domain.RulesetHandle, in RuleInput) (*domain.RemoteRule, error)
	UpdateRule(ctx context.Context, handle domain.RulesetHandle, ruleID string, in RuleInput) (*domain.RemoteRule, error)
}

// RuleInput is the body of a rule create or edit request.
type RuleInput struct {
	Action      string `json:"action"`
	Expression  string `json:"expression"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

// Client talks to the Cloudflare rulesets API.
type Client struct {
	http    *http.Client
	baseURL string
}

// Ensure Client implements RulesetClient.
var _ RulesetClient = (*Client)(nil)

// New creates a client authenticating with an API token.
func New(apiToken, baseURL string) (*Client, error) {
	return NewWithHTTPClient(apiToken, baseURL, nil)
}

// NewWithHTTPClient creates a client whose requests go through base.
func NewWithHTTPClient(apiToken, baseURL string, base *http.Client) (*Client, error) {
	if apiToken == "" {
		return nil, fmt.Errorf("%w: API token is required", domain.ErrConfiguration)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiToken, TokenType: "Bearer"})

	return &Client{
		http:    oauth2.NewClient(ctx, ts),
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Errors  []apiMessage    `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rulesetSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Phase string `json:"phase"`
}

type ruleset struct {
	ID    string     `json:"id"`
	Rules []wireRule `json:"rules"`
}

type wireRule struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	Expression  string `json:"expression"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
}

func (r wireRule) toDomain() domain.RemoteRule {
	return domain.RemoteRule{
		ID:          r.ID,
		Description: r.Description,
		Action:      r.Action,
		Expression:  r.Expression,
		Enabled:     r.Enabled,
	}
}

// FindZoneRulesetID returns the id of the zone's ruleset of kind "zone".
func (c *Client) FindZoneRulesetID(ctx context.Context, zoneID string) (string, bool, error) {
	var summaries []rulesetSummary
	path := "/zones/" + url.PathEscape(zoneID) + "/rulesets"
	if err := c.do(ctx, "list rulesets", http.MethodGet, path, nil, &summaries); err != nil {
		return "", false, err
	}
	for _, rs := range summaries {
		if rs.Kind == domain.RulesetKindZone {
			return rs.ID, true, nil
		}
	}
	return "", false, nil
}

// ListRules returns the rules of a ruleset.
func (c *Client) ListRules(ctx context.Context, handle domain.RulesetHandle) ([]domain.RemoteRule, error) {
	var rs ruleset
	if err := c.do(ctx, "get ruleset", http.MethodGet, rulesetPath(handle), nil, &rs); err != nil {
		return nil, err
	}
	rules := make([]domain.RemoteRule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		rules = append(rules, r.toDomain())
	}
	return rules, nil
}

// CreateRule appends a rule to a ruleset.
func (c *Client) CreateRule(ctx context.Context, handle domain.RulesetHandle, in RuleInput) (*domain.RemoteRule, error) {
	var rs ruleset
	if err := c.do(ctx, "create rule", http.MethodPost, rulesetPath(handle)+"/rules", in, &rs); err != nil {
		return nil, err
	}
	// New rules are appended, so the last rule with this description is ours.
	for i := len(rs.Rules) - 1; i >= 0; i-- {
		if rs.Rules[i].Description == in.Description {
			rule := rs.Rules[i].toDomain()
			return &rule, nil
		}
	}
	return &domain.RemoteRule{
		Description: in.Description,
		Action:      in.Action,
		Expression:  in.Expression,
		Enabled:     in.Enabled,
	}, nil
}

// UpdateRule edits an existing rule.
func (c *Client) UpdateRule(ctx context.Context, handle domain.RulesetHandle, ruleID string, in RuleInput) (*domain.RemoteRule, error) {
	var rs ruleset
	path := rulesetPath(handle) + "/rules/" + url.PathEscape(ruleID)
	if err := c.do(ctx, "update rule", http.MethodPatch, path, in, &rs); err != nil {
		return nil, err
	}
	for _, r := range rs.Rules {
		if r.ID == ruleID {
			rule := r.toDomain()
			return &rule, nil
		}
	}
	return &domain.RemoteRule{
		ID:          ruleID,
		Description: in.Description,
		Action:      in.Action,
		Expression:  in.Expression,
		Enabled:     in.Enabled,
	}, nil
}

func rulesetPath(h domain.RulesetHandle) string {
	return "/zones/" + url.PathEscape(h.ZoneID) + "/rulesets/" + url.PathEscape(h.RulesetID)
}

// do performs one API call and decodes the result field into out.
// Every failure it returns is a *domain.RemoteError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &domain.RemoteError{Kind: domain.KindRemoteStatus, Op: op, Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &domain.RemoteError{Kind: domain.KindRemoteStatus, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(op, err)
	}

	if err := classifyStatus(op, resp.StatusCode, data); err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &domain.RemoteError{Kind: domain.KindRemoteStatus, Op: op, StatusCode: resp.StatusCode, Body: truncate(data), Err: err}
	}
	if !env.Success {
		return &domain.RemoteError{
			Kind:       domain.KindRemoteStatus,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(data),
			Err:        fmt.Errorf("%s", joinMessages(env.Errors)),
		}
	}
	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return &domain.RemoteError{Kind: domain.KindRemoteStatus, Op: op, StatusCode: resp.StatusCode, Body: truncate(data), Err: err}
		}
	}
	return nil
}

func joinMessages(msgs []apiMessage) string {
	if len(msgs) == 0 {
		return "request was not successful"
	}
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = fmt.Sprintf("%d: %s", m.Code, m.Message)
	}
	return strings.Join(parts, "; ")
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
