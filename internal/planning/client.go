// Package planning implements the typed HTTP client for the external
// planning service (C2), grounded on internal/perception/client_anthropic.go's
// net/http.Client + bearer-header + JSON marshal/unmarshal shape,
// generalized from an LLM completion endpoint to the planning service's
// CRUD surface and wrapped in internal/retry per call.
package planning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"spectree/internal/errkind"
	"spectree/internal/retry"
	"spectree/internal/worktype"
)

// AuthContext is an immutable credential bundle threaded through every
// call instead of being mutated on a shared request object, per the
// design note in SPEC_FULL.md §9 (derived from spec.md's own guidance).
type AuthContext struct {
	Token string // "st_"-prefixed bearer token
}

func (a AuthContext) apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// Client talks to the planning service's /api/v1 surface.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Auth       AuthContext
}

// New builds a Client with sane defaults matching the teacher's LLM
// client construction (explicit timeout, shared transport).
func New(baseURL string, auth AuthContext) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Auth:       auth,
	}
}

// Page is the generic envelope every list endpoint returns.
type Page[T any] struct {
	Data []T `json:"data"`
	Meta struct {
		Cursor  string `json:"cursor"`
		HasMore bool   `json:"hasMore"`
	} `json:"meta"`
}

// doJSON issues one logical call under profile, retrying per classify.
// A 429 response escalates to retry.RateLimitProfile for the remainder of
// the call once profile's own (shorter) retry budget is spent on it,
// since a rate limit needs a longer backoff than a transient 5xx does.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, profile retry.Profile) error {
	_, err := retry.Do(ctx, profile, classify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.doOnce(ctx, method, path, body, out)
	})

	var ke *errkind.Error
	if errors.As(err, &ke) && ke.Kind == errkind.RateLimited {
		_, err = retry.Do(ctx, retry.RateLimitProfile, classify, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.doOnce(ctx, method, path, body, out)
		})
	}
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errkind.Wrap(errkind.Config, "encode request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/api/v1"+path, reader)
	if err != nil {
		return errkind.Wrap(errkind.Config, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.Auth.apply(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errkind.Wrap(errkind.NetworkTimeout, "request cancelled", err)
		}
		return errkind.Wrap(errkind.NetworkConnection, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errkind.New(errkind.AuthInvalid, "planning service rejected credentials")
	case resp.StatusCode == http.StatusForbidden:
		return errkind.New(errkind.AuthExpired, "planning service token expired or lacks scope")
	case resp.StatusCode == http.StatusNotFound:
		return errkind.New(errkind.PlanningNotFound, path+" not found")
	case resp.StatusCode == http.StatusConflict:
		return errkind.New(errkind.PlanningConflict, path+" conflict")
	case resp.StatusCode == http.StatusTooManyRequests:
		return errkind.New(errkind.RateLimited, "planning service rate limit exceeded")
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return errkind.New(errkind.PlanningValidation, string(respBody))
	case resp.StatusCode >= 500:
		return errkind.New(errkind.NetworkServer, fmt.Sprintf("planning service returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return errkind.New(errkind.PlanningValidation, fmt.Sprintf("planning service returned %d: %s", resp.StatusCode, respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errkind.Wrap(errkind.PlanningValidation, "decode response", err)
	}
	return nil
}

func classify(err error) bool {
	var ke *errkind.Error
	if !errors.As(err, &ke) {
		return false
	}
	return ke.Retryable()
}

// GetWorkItem fetches a single item by ID.
func (c *Client) GetWorkItem(ctx context.Context, id string) (*worktype.WorkItem, error) {
	var item worktype.WorkItem
	if err := c.doJSON(ctx, http.MethodGet, "/work-items/"+id, nil, &item, retry.ReadOperationProfile); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetExecutionPlan fetches the planning service's own precomputed
// execution plan for an epic, for callers that want the service's view
// without running the local planner; no command in cmd/spectree calls
// it. The orchestrator's dispatch loop does not call this — it
// builds its own plan via internal/planner from ListChildren, per
// spec.md §4.5/§4.6, so that dependency/parallel-group eligibility stays
// a deterministic local computation rather than a second source of truth.
func (c *Client) GetExecutionPlan(ctx context.Context, epicID string) (*worktype.ExecutionPlan, error) {
	var plan worktype.ExecutionPlan
	if err := c.doJSON(ctx, http.MethodGet, "/epics/"+epicID+"/plan", nil, &plan, retry.ReadOperationProfile); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ListChildren paginates the children of a parent WorkItem (e.g. an
// epic's features, or a feature's tasks).
func (c *Client) ListChildren(ctx context.Context, parentID, cursor string) (Page[worktype.WorkItem], error) {
	var page Page[worktype.WorkItem]
	path := fmt.Sprintf("/work-items/%s/children", parentID)
	if cursor != "" {
		path += "?cursor=" + cursor
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, &page, retry.ReadOperationProfile)
	return page, err
}

// UpdateStatus transitions a WorkItem's status. Superseded in the
// orchestrator's dispatch loop by StartWork/CompleteWork (spec.md §4.6
// step 3), but kept as the general-purpose status transition every other
// caller (e.g. marking an item failed or skipped) still needs.
func (c *Client) UpdateStatus(ctx context.Context, id string, status worktype.Status) error {
	body := map[string]string{"status": string(status)}
	return c.doJSON(ctx, http.MethodPatch, "/work-items/"+id, body, nil, retry.DefaultProfile)
}

// StartWork marks a WorkItem as picked up by an agent, called by the
// orchestrator immediately before dispatch (spec.md §4.6 step 3).
func (c *Client) StartWork(ctx context.Context, kind worktype.Kind, id string) error {
	body := map[string]string{"type": string(kind)}
	return c.doJSON(ctx, http.MethodPost, "/work-items/"+id+"/start-work", body, nil, retry.DefaultProfile)
}

// CompleteWork marks a WorkItem done with a free-form summary of what the
// agent produced, called by the orchestrator once an item's agent session
// succeeds (spec.md §4.6 step 3).
func (c *Client) CompleteWork(ctx context.Context, kind worktype.Kind, id, summary string) error {
	body := map[string]string{"type": string(kind), "summary": summary}
	return c.doJSON(ctx, http.MethodPost, "/work-items/"+id+"/complete-work", body, nil, retry.DefaultProfile)
}

// Session is a planning-service work session scoping a contiguous block
// of agent activity against an epic.
type Session struct {
	ID        string    `json:"id"`
	EpicID    string    `json:"epicId"`
	StartedAt time.Time `json:"startedAt"`
}

// StartSession opens a new work session for epicID.
func (c *Client) StartSession(ctx context.Context, epicID string) (*Session, error) {
	var sess Session
	body := map[string]string{"epicId": epicID}
	if err := c.doJSON(ctx, http.MethodPost, "/epics/"+epicID+"/sessions", body, &sess, retry.DefaultProfile); err != nil {
		return nil, err
	}
	return &sess, nil
}

// EndSession closes a previously started session.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodPost, "/sessions/"+sessionID+"/end", nil, nil, retry.DefaultProfile)
}

// GetActiveSession returns the in-progress session for epicID, if any.
func (c *Client) GetActiveSession(ctx context.Context, epicID string) (*Session, error) {
	var sess Session
	path := "/epics/" + epicID + "/sessions/active"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &sess, retry.ReadOperationProfile); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ProgressSummary is the planning service's rollup of an epic's completion
// state, used for operator-facing status reporting.
type ProgressSummary struct {
	TotalItems      int     `json:"totalItems"`
	CompletedItems  int     `json:"completedItems"`
	FailedItems     int     `json:"failedItems"`
	PercentComplete float64 `json:"percentComplete"`
}

// GetProgressSummary fetches epicID's rollup progress.
func (c *Client) GetProgressSummary(ctx context.Context, epicID string) (*ProgressSummary, error) {
	var summary ProgressSummary
	path := "/epics/" + epicID + "/progress"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &summary, retry.ReadOperationProfile); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListStatuses returns the workspace's configured status names, used to
// validate statusRef values before they're written back.
func (c *Client) ListStatuses(ctx context.Context) ([]string, error) {
	var out struct {
		Data []string `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/statuses", nil, &out, retry.ReadOperationProfile); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Team is a planning-service team, used to resolve a WorkItem's assignee.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListTeams returns every team in the workspace.
func (c *Client) ListTeams(ctx context.Context) ([]Team, error) {
	var out struct {
		Data []Team `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/teams", nil, &out, retry.ReadOperationProfile); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ResolveIdentifier accepts either a UUID or a human identifier (e.g.
// "PROJ-142") and returns the canonical WorkItem ID, per spec.md §4.2 and
// the Open Question resolved in DESIGN.md: a cheap uuid.Parse probe first,
// falling back to the human-identifier lookup endpoint.
func (c *Client) ResolveIdentifier(ctx context.Context, identifier string) (string, error) {
	if _, err := uuid.Parse(identifier); err == nil {
		return identifier, nil
	}
	var resolved struct {
		ID string `json:"id"`
	}
	path := "/work-items/by-identifier/" + identifier
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resolved, retry.ReadOperationProfile); err != nil {
		return "", err
	}
	return resolved.ID, nil
}

// searchCursor is the combined cursor encoding used by Search. It has a
// slot per result stream; Search advances only ItemsCursor and passes
// DocsCursor through unchanged.
type searchCursor struct {
	ItemsCursor string `json:"ic,omitempty"`
	DocsCursor  string `json:"dc,omitempty"`
}

func encodeSearchCursor(sc searchCursor) string {
	buf, _ := json.Marshal(sc)
	return string(buf)
}

func decodeSearchCursor(raw string) searchCursor {
	var sc searchCursor
	if raw == "" {
		return sc
	}
	_ = json.Unmarshal([]byte(raw), &sc)
	return sc
}

// Search queries /search/work-items and returns that one page with a
// combined cursor. Only the work-item stream is fetched: no second stream
// is requested or merged, and the cursor's DocsCursor slot is returned as
// it came in.
func (c *Client) Search(ctx context.Context, query, cursor string) (Page[worktype.WorkItem], error) {
	sc := decodeSearchCursor(cursor)

	var itemsPage Page[worktype.WorkItem]
	path := fmt.Sprintf("/search/work-items?q=%s", query)
	if sc.ItemsCursor != "" {
		path += "&cursor=" + sc.ItemsCursor
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &itemsPage, retry.ReadOperationProfile); err != nil {
		return Page[worktype.WorkItem]{}, err
	}

	merged := itemsPage
	merged.Meta.Cursor = encodeSearchCursor(searchCursor{ItemsCursor: itemsPage.Meta.Cursor, DocsCursor: sc.DocsCursor})
	merged.Meta.HasMore = itemsPage.Meta.HasMore
	return merged, nil
}
