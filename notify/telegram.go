// ABOUTME: Telegram Bot API client for approval prompts and decision notices.
// ABOUTME: Formats gate messages and owns the sendMessage/sendPhoto/setWebhook calls.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
)

// DefaultAPIBase is the production Telegram Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

// Telegram sends approval prompts and notifications to a single approver
// chat. Message formatting lives here, outside the gate core.
type Telegram struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

// NewTelegram creates a notifier for the given bot token and approver chat.
// apiBase overrides the Telegram endpoint; empty uses the production API.
func NewTelegram(token, chatID, apiBase string) *Telegram {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	return &Telegram{
		token:   token,
		chatID:  chatID,
		apiBase: apiBase,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

// RequestApproval prompts the approver for the newly opened gate. Phrase
// gates list the candidates with reply commands; image and preview gates
// send the artifact as a photo with command captions.
func (t *Telegram) RequestApproval(ctx context.Context, card gate.Card, kind gate.GateKind, artifactRef string) error {
	switch kind {
	case gate.GatePhrase:
		_, err := t.sendMessage(ctx, phrasePrompt(card), "HTML")
		return err
	case gate.GateImage:
		caption := fmt.Sprintf("Image for card %s\nTheme: %s\n\n/approve_image_%s or /reject_image_%s",
			card.CardID, card.ThemeName, card.CardID, card.CardID)
		_, err := t.sendPhoto(ctx, artifactRef, caption)
		return err
	case gate.GatePreview:
		caption := fmt.Sprintf("Final card preview — card %s\nTheme: %s\n\n/approve_final_%s — Publish\n/reject_final_%s — Discard",
			card.CardID, card.ThemeName, card.CardID, card.CardID)
		_, err := t.sendPhoto(ctx, artifactRef, caption)
		return err
	}
	return fmt.Errorf("unknown gate kind %q", kind)
}

// NotifyDecision sends a plain decision notice to the approver chat.
func (t *Telegram) NotifyDecision(ctx context.Context, cardID ulid.ULID, message string) error {
	_, err := t.sendMessage(ctx, message, "HTML")
	return err
}

// SetupWebhook registers publicBaseURL/telegram/webhook as the bot's webhook
// target. A one-time administrative operation, not part of the runtime path.
func (t *Telegram) SetupWebhook(ctx context.Context, publicBaseURL string) (string, error) {
	webhookURL := strings.TrimRight(publicBaseURL, "/") + "/telegram/webhook"
	params := url.Values{"url": {webhookURL}}
	if _, err := t.call(ctx, "setWebhook", params); err != nil {
		return "", err
	}
	return webhookURL, nil
}

// phrasePrompt renders the candidate list with 1-based reply commands,
// starring the generator's recommended phrase.
func phrasePrompt(card gate.Card) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Daily card generation — %s</b>\n\n", html.EscapeString(card.PlanDate))
	fmt.Fprintf(&b, "<b>Theme:</b> %s\n\n", html.EscapeString(card.ThemeName))
	for i, p := range card.Phrases {
		prefix := ""
		if p.Best {
			prefix = "⭐ "
		}
		tone := p.Tone
		if tone == "" {
			tone = "balanced"
		}
		fmt.Fprintf(&b, "%s<b>%d.</b> %s <i>(%s)</i>\n", prefix, i+1, html.EscapeString(p.Text), html.EscapeString(tone))
	}
	fmt.Fprintf(&b, "\nReply with /approve_phrase_%s_{n} or /reject_phrase_%s", card.CardID, card.CardID)
	return b.String()
}

func (t *Telegram) sendMessage(ctx context.Context, text, parseMode string) (int64, error) {
	params := url.Values{
		"chat_id":    {t.chatID},
		"text":       {text},
		"parse_mode": {parseMode},
	}
	return t.call(ctx, "sendMessage", params)
}

func (t *Telegram) sendPhoto(ctx context.Context, photoURL, caption string) (int64, error) {
	params := url.Values{
		"chat_id": {t.chatID},
		"photo":   {photoURL},
		"caption": {caption},
	}
	return t.call(ctx, "sendPhoto", params)
}

// call posts one Bot API method and returns the resulting message id.
func (t *Telegram) call(ctx context.Context, method string, params url.Values) (int64, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var payload struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("telegram %s: decode response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK || !payload.OK {
		return 0, fmt.Errorf("telegram %s: api error (status %d): %s", method, resp.StatusCode, payload.Description)
	}
	return payload.Result.MessageID, nil
}
