package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kmfx/internal/ledger"
	"kmfx/internal/portal"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsConflict reports whether err is a 409 from the API, which is how a
// replayed idempotency key is answered.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// IsUnreachable reports whether err means the request never got an HTTP
// answer.
func IsUnreachable(err error) bool {
	var apiErr *APIError
	return err != nil && !errors.As(err, &apiErr)
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) StaffLogin(ctx context.Context, username, password string) (Session, error) {
	return c.login(ctx, "/v1/auth/staff/login", username, password)
}

func (c *Client) ClientLogin(ctx context.Context, username, password string) (Session, error) {
	return c.login(ctx, "/v1/auth/client/login", username, password)
}

func (c *Client) login(ctx context.Context, path, username, password string) (Session, error) {
	var out Session
	err := c.jsonRequest(ctx, http.MethodPost, path, "", map[string]any{
		"username": username,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Dashboard(ctx context.Context, accessToken string) (portal.Summary, error) {
	var out portal.Summary
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/dashboard", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Overview(ctx context.Context, accessToken string) (portal.ClientOverview, error) {
	var out portal.ClientOverview
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/client/overview", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Accounts(ctx context.Context, accessToken, search string) ([]ledger.Account, error) {
	path := "/v1/accounts"
	if search != "" {
		path += "?search=" + url.QueryEscape(search)
	}
	var out struct {
		Accounts []ledger.Account `json:"accounts"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Accounts, err
}

func (c *Client) CreateAccount(ctx context.Context, accessToken string, body map[string]any) (ledger.Account, error) {
	var out ledger.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts", accessToken, body, &out, "")
	return out, err
}

func (c *Client) Downline(ctx context.Context, accessToken string, accountID int64) (ledger.DownlineNode, error) {
	path := "/v1/client/downline"
	if accountID > 0 {
		path = fmt.Sprintf("/v1/accounts/%d/downline", accountID)
	}
	var out ledger.DownlineNode
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

// ProfitBody builds the request body for a profit posting. It is shared by
// the live call and the offline queue.
func ProfitBody(accountID int64, amount, date string) map[string]any {
	body := map[string]any{"account_id": accountID, "amount": amount}
	if date != "" {
		body["date"] = date
	}
	return body
}

func (c *Client) PostProfit(ctx context.Context, accessToken string, accountID int64, amount, date, idem string) (ledger.PostingResult, error) {
	var out ledger.PostingResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/profits", accessToken, ProfitBody(accountID, amount, date), &out, idem)
	return out, err
}

func (c *Client) Profits(ctx context.Context, accessToken string, accountID int64, limit int) ([]ledger.ProfitRecord, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/client/profits"
	if accountID > 0 {
		path = "/v1/profits"
		q.Set("account_id", strconv.FormatInt(accountID, 10))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Records []ledger.ProfitRecord `json:"records"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Records, err
}

func (c *Client) Withdrawals(ctx context.Context, accessToken string, staff bool, status string) ([]ledger.Withdrawal, error) {
	path := "/v1/client/withdrawals"
	if staff {
		path = "/v1/withdrawals"
	}
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Withdrawals []ledger.Withdrawal `json:"withdrawals"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Withdrawals, err
}

func (c *Client) RequestWithdrawal(ctx context.Context, accessToken, amount, method, details string) (ledger.Withdrawal, error) {
	var out ledger.Withdrawal
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/client/withdrawals", accessToken, map[string]any{
		"amount":  amount,
		"method":  method,
		"details": details,
	}, &out, "")
	return out, err
}

func (c *Client) ApproveWithdrawal(ctx context.Context, accessToken string, id int64) (ledger.Withdrawal, error) {
	var out ledger.Withdrawal
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/withdrawals/%d/approve", id), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) RejectWithdrawal(ctx context.Context, accessToken string, id int64, reason string) (ledger.Withdrawal, error) {
	var out ledger.Withdrawal
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/withdrawals/%d/reject", id), accessToken, map[string]any{
		"reason": reason,
	}, &out, "")
	return out, err
}

// IssueLicense returns the new license and the text of its license file.
func (c *Client) IssueLicense(ctx context.Context, accessToken string, accountID int64, expiry string, allowLive bool) (portal.License, string, error) {
	var out struct {
		License portal.License `json:"license"`
		File    string         `json:"file"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/accounts/%d/licenses", accountID), accessToken, map[string]any{
		"expiry":     expiry,
		"allow_live": allowLive,
	}, &out, "")
	return out.License, out.File, err
}

func (c *Client) Licenses(ctx context.Context, accessToken string, accountID int64) ([]portal.License, error) {
	path := "/v1/client/licenses"
	if accountID > 0 {
		path = fmt.Sprintf("/v1/accounts/%d/licenses", accountID)
	}
	var out struct {
		Licenses []portal.License `json:"licenses"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Licenses, err
}

// Download streams a raw response body, such as a CSV report or a license
// file, into w and returns the server-suggested file name.
func (c *Client) Download(ctx context.Context, accessToken, path string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return "", err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", err
	}
	return attachmentName(resp.Header.Get("Content-Disposition")), nil
}

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, accessToken, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

func attachmentName(header string) string {
	const marker = "filename="
	i := strings.Index(header, marker)
	if i < 0 {
		return ""
	}
	return strings.Trim(header[i+len(marker):], `"; `)
}
