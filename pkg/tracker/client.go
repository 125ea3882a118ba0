package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ceedaragents/cyrus/pkg/version"
)

// DefaultEndpoint is the tracker GraphQL endpoint. A proxy relay URL from
// configuration overrides it.
const DefaultEndpoint = "https://api.linear.app/graphql"

var (
	// ErrUnauthorized indicates the tracker rejected the token. The connector
	// for that token is paused; the process continues.
	ErrUnauthorized = errors.New("tracker rejected token")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)

// TransportError wraps network or server-side failures talking to the
// tracker. Retried with exponential backoff before surfacing.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tracker transport error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tracker transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is the outbound tracker surface the orchestrator depends on.
type Client interface {
	// PostActivity publishes one agent activity record on a session thread.
	PostActivity(ctx context.Context, activity Activity) error
	// FetchIssue retrieves the full issue, including labels, project, state,
	// and parent.
	FetchIssue(ctx context.Context, issueID string) (*Issue, error)
	// Viewer probes the token and returns the identity behind it.
	Viewer(ctx context.Context) (*Viewer, error)
}

// Factory builds a Client per token. Clients are cached and reused by the
// orchestrator; implementations must be safe for concurrent use.
type Factory func(token string) Client

// HTTPClient is the GraphQL-over-HTTPS implementation of Client.
type HTTPClient struct {
	endpoint string
	token    string
	http     *http.Client
}

// NewHTTPClient creates a tracker client for one token. endpoint may be
// empty to use the default.
func NewHTTPClient(endpoint, token string) *HTTPClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &HTTPClient{
		endpoint: endpoint,
		token:    token,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// NewFactory returns a Factory producing HTTP clients against endpoint.
func NewFactory(endpoint string) Factory {
	return func(token string) Client {
		return NewHTTPClient(endpoint, token)
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// do executes one GraphQL request with retry on 5xx and network errors.
// 4xx responses fail immediately: retrying an auth failure cannot help.
func (c *HTTPClient) do(ctx context.Context, req graphQLRequest, out any) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 2 * time.Minute

	operation := func() error {
		err := c.doOnce(ctx, req, out)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotFound):
			return backoff.Permanent(err)
		default:
			var te *TransportError
			if errors.As(err, &te) && te.StatusCode >= 400 && te.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
	}
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func (c *HTTPClient) doOnce(ctx context.Context, req graphQLRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.token)
	httpReq.Header.Set("User-Agent", version.Full())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", string(data)),
		}
	}

	var gql graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gql); err != nil {
		return &TransportError{Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(gql.Errors) > 0 {
		return &TransportError{Err: fmt.Errorf("graphql error: %s", gql.Errors[0].Message)}
	}
	if out != nil {
		if err := json.Unmarshal(gql.Data, out); err != nil {
			return &TransportError{Err: fmt.Errorf("malformed data: %w", err)}
		}
	}
	return nil
}

const postActivityMutation = `mutation AgentActivityCreate($input: AgentActivityCreateInput!) {
  agentActivityCreate(input: $input) { success }
}`

// PostActivity implements Client.
func (c *HTTPClient) PostActivity(ctx context.Context, activity Activity) error {
	content := map[string]any{"type": string(activity.Kind)}
	switch activity.Kind {
	case ActivityAction:
		content["action"] = activity.ToolName
		content["parameter"] = activity.Parameter
		if activity.Body != "" {
			content["result"] = activity.Body
		}
	default:
		content["body"] = activity.Body
	}

	return c.do(ctx, graphQLRequest{
		Query: postActivityMutation,
		Variables: map[string]any{
			"input": map[string]any{
				"agentSessionId": activity.SessionID,
				"content":        content,
			},
		},
	}, nil)
}

const issueQuery = `query Issue($id: String!) {
  issue(id: $id) {
    id identifier title description branchName
    labels { nodes { name } }
    project { name }
    team { key }
    state { type }
    parent { id identifier title branchName }
  }
}`

// FetchIssue implements Client.
func (c *HTTPClient) FetchIssue(ctx context.Context, issueID string) (*Issue, error) {
	var data struct {
		Issue *struct {
			ID          string `json:"id"`
			Identifier  string `json:"identifier"`
			Title       string `json:"title"`
			Description string `json:"description"`
			BranchName  string `json:"branchName"`
			Labels      struct {
				Nodes []struct {
					Name string `json:"name"`
				} `json:"nodes"`
			} `json:"labels"`
			Project *struct {
				Name string `json:"name"`
			} `json:"project"`
			Team *struct {
				Key string `json:"key"`
			} `json:"team"`
			State *struct {
				Type string `json:"type"`
			} `json:"state"`
			Parent *IssueStub `json:"parent"`
		} `json:"issue"`
	}

	err := c.do(ctx, graphQLRequest{
		Query:     issueQuery,
		Variables: map[string]any{"id": issueID},
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.Issue == nil {
		return nil, fmt.Errorf("%w: issue %s", ErrNotFound, issueID)
	}

	issue := &Issue{
		ID:          data.Issue.ID,
		Identifier:  data.Issue.Identifier,
		Title:       data.Issue.Title,
		Description: data.Issue.Description,
		BranchName:  data.Issue.BranchName,
		Parent:      data.Issue.Parent,
	}
	for _, n := range data.Issue.Labels.Nodes {
		issue.Labels = append(issue.Labels, n.Name)
	}
	if data.Issue.Project != nil {
		issue.ProjectName = data.Issue.Project.Name
	}
	if data.Issue.Team != nil {
		issue.TeamKey = data.Issue.Team.Key
	}
	if data.Issue.State != nil {
		issue.StateType = data.Issue.State.Type
	}
	return issue, nil
}

const viewerQuery = `query { viewer { id name email } }`

// Viewer implements Client.
func (c *HTTPClient) Viewer(ctx context.Context) (*Viewer, error) {
	var data struct {
		Viewer *Viewer `json:"viewer"`
	}
	if err := c.do(ctx, graphQLRequest{Query: viewerQuery}, &data); err != nil {
		return nil, err
	}
	if data.Viewer == nil {
		return nil, &TransportError{Err: errors.New("viewer missing from response")}
	}
	return data.Viewer, nil
}
