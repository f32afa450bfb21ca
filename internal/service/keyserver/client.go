package keyserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/timloh-professional/origin/internal/model"
)

// Client speaks the key server's REST surface. The server sees only
// ciphertext and membership metadata.
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(serverURL string, httpClient *http.Client) (*Client, error) {
	if serverURL == "" {
		return nil, fmt.Errorf("%w: key server URL missing", model.ErrConfiguration)
	}
	base, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("%w: bad key server URL: %v", model.ErrConfiguration, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}, nil
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(parts, "/")
	return u.String()
}

// GetAccount fetches a wallet's registry entry. Absent (any non-200)
// resolves to (nil, nil); transport failures surface as errors.
func (c *Client) GetAccount(ctx context.Context, wallet string) (*model.RegistryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("accounts", wallet), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	var entry model.RegistryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decode registry entry: %w", err)
	}
	return &entry, nil
}

// PostAccount publishes a registry entry.
func (c *Client) PostAccount(ctx context.Context, wallet string, pub *model.RegistryPublication) error {
	body, err := json.Marshal(pub)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("accounts", wallet), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrRegistryUnavailable, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: publish returned %d", model.ErrRegistryUnavailable, resp.StatusCode)
	}
	return nil
}

// GetMessages bulk-loads a room's full log, ascending by index.
func (c *Client) GetMessages(ctx context.Context, roomID string) ([]model.LogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("messages", roomID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bulk load %s: status %d", roomID, resp.StatusCode)
	}
	var entries []model.LogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	return entries, nil
}

// PostMessage appends a log entry at the given index. 409 means another
// entry took the index; retry after the ingestor advances.
func (c *Client) PostMessage(ctx context.Context, roomID string, index int, entry *model.PostedEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("messages", roomID, strconv.Itoa(index)), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return model.ErrIndexConflict
	default:
		return fmt.Errorf("post message: status %d", resp.StatusCode)
	}
}

// GetConversations lists the roomIds the wallet participates in.
func (c *Client) GetConversations(ctx context.Context, wallet string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("conversations", wallet), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list conversations: status %d", resp.StatusCode)
	}
	var rooms []string
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return rooms, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
