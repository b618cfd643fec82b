package line

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultBaseURL = "https://api.line.me"

// LINE rejects text messages longer than this many characters.
const maxTextRunes = 5000

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Message string `json:"message"`
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Name() string { return "line" }

// Reply answers a webhook event through its one-shot reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	if replyToken == "" {
		return fmt.Errorf("line reply token is empty")
	}
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   []textMessage{{Type: "text", Text: truncate(text)}},
	}
	return c.post(ctx, "/v2/bot/message/reply", payload)
}

// Push sends an unsolicited message to a user, group or room id.
func (c *Client) Push(ctx context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("line push target is empty")
	}
	payload := map[string]any{
		"to":       to,
		"messages": []textMessage{{Type: "text", Text: truncate(text)}},
	}
	return c.post(ctx, "/v2/bot/message/push", payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if c.token == "" {
		return fmt.Errorf("line channel access token is empty")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ae apiError
		if json.Unmarshal(raw, &ae) == nil && ae.Message != "" {
			return fmt.Errorf("line api %s: status=%d message=%s", path, resp.StatusCode, ae.Message)
		}
		return fmt.Errorf("line api %s: status=%d", path, resp.StatusCode)
	}
	return nil
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) <= maxTextRunes {
		return text
	}
	return string(r[:maxTextRunes-1]) + "…"
}

// VerifySignature checks the X-Line-Signature header against the raw body.
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" || signature == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	_, _ = mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign is the server side of VerifySignature.
func Sign(channelSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ReplyChannel exposes Reply through the Push shape so webhook answers can
// go through the same delivery path as broadcasts. The target is the reply
// token.
type ReplyChannel struct {
	client *Client
}

func (c *Client) Replies() ReplyChannel { return ReplyChannel{client: c} }

func (r ReplyChannel) Name() string { return "line-reply" }

func (r ReplyChannel) Push(ctx context.Context, replyToken, text string) error {
	return r.client.Reply(ctx, replyToken, text)
}
