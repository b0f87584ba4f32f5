// Package authclient talks to the remote authorization service that
// validates badges and returns session allowances. It is an external
// collaborator of internal/core: a login call has side effects (creating a
// server-side session) and the core treats its three outcomes (granted,
// unauthorized, transport error) as the error taxonomy described in §7 of
// the spec.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrUnauthorized is returned by Login when the server rejects the badge.
var ErrUnauthorized = errors.New("authclient: badge not authorized")

// ErrRegistrationRejected is returned by RegisterUser when the server
// refuses to enroll the student (e.g. trainer badge not recognized as a
// trainer, or the student is already registered).
var ErrRegistrationRejected = errors.New("authclient: registration rejected")

// LoginResult is the session allowance returned by a successful login.
type LoginResult struct {
	UserID              string
	UserName            string
	SessionSeconds      int
	RemainingSeconds    int
	RemainingExtensions int // -1 means unbounded
}

// Client is the §6 Authorization service contract.
type Client interface {
	// Login validates badgeCode and returns the session allowance. Returns
	// ErrUnauthorized for an explicit rejection, or a transport error for
	// anything else (including wrapped context errors).
	Login(ctx context.Context, badgeCode string) (*LoginResult, error)
	// Logout is fire-and-forget, best-effort: callers do not wait for it to
	// affect a transition.
	Logout(ctx context.Context, badgeCode string)
	// RegisterUser enrolls studentBadge under trainerID/trainerBadge.
	// Returns ErrRegistrationRejected on explicit rejection, or a transport
	// error for anything else.
	RegisterUser(ctx context.Context, trainerID, trainerBadge, studentBadge string) error
}

// HTTPClient is the production Client, grounded on gauthbox's BadgeAuth
// (lib.go): a simple JSON-over-HTTP call to a configured base URL, with a
// correlation ID threaded through for cross-service log correlation.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPClient builds an HTTPClient with sane request timeouts.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type loginResponse struct {
	UserID              string `json:"user_id"`
	UserName            string `json:"user_name"`
	SessionSeconds      int    `json:"session_seconds"`
	RemainingSeconds    int    `json:"remaining_seconds"`
	RemainingExtensions *int   `json:"remaining_extensions"` // null => unbounded
}

func (c *HTTPClient) Login(ctx context.Context, badgeCode string) (*LoginResult, error) {
	body, _ := json.Marshal(map[string]string{"badge_code": badgeCode})
	resp, err := c.doRequest(ctx, http.MethodPost, "/login", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var lr loginResponse
		if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
			return nil, fmt.Errorf("authclient: decoding login response: %w", err)
		}
		extensions := -1
		if lr.RemainingExtensions != nil {
			extensions = *lr.RemainingExtensions
		}
		return &LoginResult{
			UserID:              lr.UserID,
			UserName:            lr.UserName,
			SessionSeconds:      lr.SessionSeconds,
			RemainingSeconds:    lr.RemainingSeconds,
			RemainingExtensions: extensions,
		}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	default:
		return nil, fmt.Errorf("authclient: login failed with status %d", resp.StatusCode)
	}
}

func (c *HTTPClient) Logout(ctx context.Context, badgeCode string) {
	go func() {
		body, _ := json.Marshal(map[string]string{"badge_code": badgeCode})
		// Best-effort: a fresh, short-lived context so a shutdown cancelling
		// ctx doesn't also kill this fire-and-forget call.
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := c.doRequest(bgCtx, http.MethodPost, "/logout", body)
		if err != nil {
			return
		}
		resp.Body.Close()
	}()
}

func (c *HTTPClient) RegisterUser(ctx context.Context, trainerID, trainerBadge, studentBadge string) error {
	body, _ := json.Marshal(map[string]string{
		"trainer_id":    trainerID,
		"trainer_badge": trainerBadge,
		"student_badge": studentBadge,
	})
	resp, err := c.doRequest(ctx, http.MethodPost, "/register_user", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusUnprocessableEntity, http.StatusForbidden:
		return ErrRegistrationRejected
	default:
		return fmt.Errorf("authclient: register_user failed with status %d", resp.StatusCode)
	}
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("authclient: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authclient: request failed: %w", err)
	}
	return resp, nil
}
