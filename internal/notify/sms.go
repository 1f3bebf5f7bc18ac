// Package notify delivers confirmation codes over a Twilio-compatible
// Messages API.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/perkwise/cashback/pkg/cashback"
)

const (
	defaultBaseURL    = "https://api.twilio.com"
	defaultTimeout    = 10 * time.Second
	messagesPathTmpl  = "/2010-04-01/Accounts/%s/Messages.json"
	codeBodyTemplate  = "Your cashback confirmation code is %s"
	maxErrorBodyBytes = 512
)

// Config holds the SMS provider credentials.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	Timeout    time.Duration
}

// Validate checks required fields and applies defaults.
func (config *Config) Validate() error {
	if strings.TrimSpace(config.AccountSID) == "" {
		return fmt.Errorf("sms account sid is required")
	}
	if strings.TrimSpace(config.AuthToken) == "" {
		return fmt.Errorf("sms auth token is required")
	}
	if strings.TrimSpace(config.From) == "" {
		return fmt.Errorf("sms sender number is required")
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return nil
}

// SMSSender sends codes through the provider's Messages endpoint.
type SMSSender struct {
	config Config
	client *http.Client
}

// NewSMSSender wires a sender; the configuration must already be validated.
func NewSMSSender(config Config) *SMSSender {
	return &SMSSender{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// SendCode posts a form-encoded message request. The code appears only in the
// request body, never in errors or logs.
func (sender *SMSSender) SendCode(ctx context.Context, destination cashback.Phone, code string) error {
	form := url.Values{}
	form.Set("To", destination.String())
	form.Set("From", sender.config.From)
	form.Set("Body", fmt.Sprintf(codeBodyTemplate, code))

	endpoint := strings.TrimRight(sender.config.BaseURL, "/") + fmt.Sprintf(messagesPathTmpl, sender.config.AccountSID)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.SetBasicAuth(sender.config.AccountSID, sender.config.AuthToken)

	response, err := sender.client.Do(request)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return fmt.Errorf("send sms: provider returned %d: %s", response.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// NopSender discards codes; useful for local development without a provider.
type NopSender struct{}

// SendCode does nothing and reports success.
func (NopSender) SendCode(ctx context.Context, destination cashback.Phone, code string) error {
	return nil
}
