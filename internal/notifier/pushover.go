package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	pushoverAPI = "https://api.pushover.net/1/messages.json"

	pushoverMaxTitle   = 250
	pushoverMaxMessage = 1024
)

// Pushover sends reminders through the Pushover messages API.
type Pushover struct {
	AppToken string
	UserKey  string
	// Endpoint overrides the API URL (tests).
	Endpoint string
	Client   *http.Client
}

type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors,omitempty"`
}

func (p *Pushover) Name() string { return ChannelPushover }

func (p *Pushover) Ready(context.Context) (bool, error) {
	return p.AppToken != "" && p.UserKey != "", nil
}

func (p *Pushover) Send(ctx context.Context, m Message) error {
	if ok, _ := p.Ready(ctx); !ok {
		return errors.New("pushover not configured: set pushover.app_token and pushover.user_key")
	}
	title := truncate(m.Title, pushoverMaxTitle)
	body := strings.TrimSpace(m.Body)
	if body == "" {
		body = m.Title
	}
	form := url.Values{
		"token":     {p.AppToken},
		"user":      {p.UserKey},
		"title":     {title},
		"message":   {truncate(body, pushoverMaxMessage)},
		"priority":  {"0"},
		"timestamp": {strconv.FormatInt(m.At.Unix(), 10)},
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = pushoverAPI
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending pushover notification: %w", err)
	}
	defer resp.Body.Close()

	var out pushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding pushover response (http %d): %w", resp.StatusCode, err)
	}
	if out.Status != 1 {
		return fmt.Errorf("pushover API error: %s", strings.Join(out.Errors, "; "))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
