// ABOUTME: Tests for the Telegram notifier against a fake Bot API server.
// ABOUTME: Captures form payloads to verify methods, chat routing, and prompt content.
package notify_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/2389-research/cardgate/gate"
	"github.com/2389-research/cardgate/notify"
)

type apiCall struct {
	method string
	form   map[string]string
}

// fakeBotAPI captures Bot API calls and answers like Telegram does.
type fakeBotAPI struct {
	t     *testing.T
	calls []apiCall
	fail  bool
}

func (f *fakeBotAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			f.t.Errorf("parse form: %v", err)
		}
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		form := map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		f.calls = append(f.calls, apiCall{method: method, form: form})

		if f.fail {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"ok": false, "description": "Bad Request: chat not found"}`)
			return
		}
		fmt.Fprint(w, `{"ok": true, "result": {"message_id": 555}}`)
	}
}

func newFakeTelegram(t *testing.T) (*notify.Telegram, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{t: t}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)
	return notify.NewTelegram("test-token", "424242", srv.URL), api
}

func phraseCard() gate.Card {
	card := gate.NewCard("Spring Rain", "2026-04-12")
	card.Phrases = []gate.Phrase{
		{Text: "April showers, warm hearts", Tone: "cozy"},
		{Text: "Dancing in the rain", Tone: "playful", Best: true},
	}
	return card
}

func TestRequestApprovalPhrasePrompt(t *testing.T) {
	tg, api := newFakeTelegram(t)
	card := phraseCard()

	if err := tg.RequestApproval(context.Background(), card, gate.GatePhrase, ""); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if len(api.calls) != 1 || api.calls[0].method != "sendMessage" {
		t.Fatalf("calls: got %+v, want one sendMessage", api.calls)
	}

	form := api.calls[0].form
	if form["chat_id"] != "424242" {
		t.Errorf("chat_id: got %q", form["chat_id"])
	}
	if form["parse_mode"] != "HTML" {
		t.Errorf("parse_mode: got %q", form["parse_mode"])
	}
	text := form["text"]
	for _, want := range []string{
		"Spring Rain",
		"2026-04-12",
		"<b>1.</b> April showers, warm hearts",
		"⭐ <b>2.</b> Dancing in the rain",
		"/approve_phrase_" + card.CardID.String() + "_{n}",
		"/reject_phrase_" + card.CardID.String(),
	} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q in:\n%s", want, text)
		}
	}
}

func TestRequestApprovalImageSendsPhoto(t *testing.T) {
	tg, api := newFakeTelegram(t)
	card := phraseCard()
	idx := 1
	card.SelectedPhraseIndex = &idx
	photoURL := "https://images.example/rain.png"

	if err := tg.RequestApproval(context.Background(), card, gate.GateImage, photoURL); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if len(api.calls) != 1 || api.calls[0].method != "sendPhoto" {
		t.Fatalf("calls: got %+v, want one sendPhoto", api.calls)
	}

	form := api.calls[0].form
	if form["photo"] != photoURL {
		t.Errorf("photo: got %q, want %q", form["photo"], photoURL)
	}
	caption := form["caption"]
	if !strings.Contains(caption, "/approve_image_"+card.CardID.String()) {
		t.Errorf("caption missing approve command:\n%s", caption)
	}
	if !strings.Contains(caption, "/reject_image_"+card.CardID.String()) {
		t.Errorf("caption missing reject command:\n%s", caption)
	}
}

func TestRequestApprovalPreviewSendsPhoto(t *testing.T) {
	tg, api := newFakeTelegram(t)
	card := phraseCard()

	if err := tg.RequestApproval(context.Background(), card, gate.GatePreview, "https://previews.example/final.jpg"); err != nil {
		t.Fatalf("RequestApproval: %v", err)
	}
	if len(api.calls) != 1 || api.calls[0].method != "sendPhoto" {
		t.Fatalf("calls: got %+v, want one sendPhoto", api.calls)
	}
	caption := api.calls[0].form["caption"]
	if !strings.Contains(caption, "/approve_final_"+card.CardID.String()) {
		t.Errorf("caption missing publish command:\n%s", caption)
	}
}

func TestNotifyDecision(t *testing.T) {
	tg, api := newFakeTelegram(t)
	card := phraseCard()

	if err := tg.NotifyDecision(context.Background(), card.CardID, "Image approved."); err != nil {
		t.Fatalf("NotifyDecision: %v", err)
	}
	if len(api.calls) != 1 || api.calls[0].method != "sendMessage" {
		t.Fatalf("calls: got %+v", api.calls)
	}
	if api.calls[0].form["text"] != "Image approved." {
		t.Errorf("text: got %q", api.calls[0].form["text"])
	}
}

func TestSetupWebhook(t *testing.T) {
	tg, api := newFakeTelegram(t)

	url, err := tg.SetupWebhook(context.Background(), "https://cards.example.com/")
	if err != nil {
		t.Fatalf("SetupWebhook: %v", err)
	}
	if url != "https://cards.example.com/telegram/webhook" {
		t.Errorf("webhook url: got %q", url)
	}
	if len(api.calls) != 1 || api.calls[0].method != "setWebhook" {
		t.Fatalf("calls: got %+v", api.calls)
	}
	if api.calls[0].form["url"] != url {
		t.Errorf("registered url: got %q, want %q", api.calls[0].form["url"], url)
	}
}

func TestAPIErrorSurfaces(t *testing.T) {
	tg, api := newFakeTelegram(t)
	api.fail = true

	err := tg.NotifyDecision(context.Background(), phraseCard().CardID, "hello")
	if err == nil {
		t.Fatal("expected an error from the failed API call")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error should carry the API description, got: %v", err)
	}
}
