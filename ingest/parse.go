// ABOUTME: Parser for inbound Telegram webhook updates into typed gate commands.
// ABOUTME: Sole owner of the /action_cardid[_selector] command grammar.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/2389-research/cardgate/gate"
)

// Command grammar, matching the bot prompts sent by the notify package.
// Card ids are ULIDs; the phrase selector is 1-based in chat.
var (
	phraseApproveRE = regexp.MustCompile(`^/approve_phrase_([0-9A-HJKMNP-TV-Z]{26})_(\d+)$`)
	phraseRejectRE  = regexp.MustCompile(`^/reject_phrase_([0-9A-HJKMNP-TV-Z]{26})$`)
	imageApproveRE  = regexp.MustCompile(`^/approve_image_([0-9A-HJKMNP-TV-Z]{26})$`)
	imageRejectRE   = regexp.MustCompile(`^/reject_image_([0-9A-HJKMNP-TV-Z]{26})$`)
	finalApproveRE  = regexp.MustCompile(`^/approve_final_([0-9A-HJKMNP-TV-Z]{26})$`)
	finalRejectRE   = regexp.MustCompile(`^/reject_final_([0-9A-HJKMNP-TV-Z]{26})$`)
	regenerateRE    = regexp.MustCompile(`^/regenerate_([0-9A-HJKMNP-TV-Z]{26})$`)
)

var (
	// ErrNoText indicates the update carried no message text; ignored.
	ErrNoText = errors.New("update has no message text")

	// ErrUnknownChat indicates the sender chat is not the configured approver chat.
	ErrUnknownChat = errors.New("update from unknown chat")

	// ErrUnknownCommand indicates the text matched no command shape; ignored.
	ErrUnknownCommand = errors.New("unrecognized command")
)

// Command is one parsed webhook command.
//
// EventID derives from Telegram's update_id, which the provider keeps stable
// across redeliveries, so it doubles as the dedup key.
type Command struct {
	EventID    string
	CardID     ulid.ULID
	Kind       gate.GateKind
	Decision   gate.Decision
	Selector   int // 0-based phrase index
	Regenerate bool
}

// update is the subset of the Telegram update payload we read.
type update struct {
	UpdateID    int64    `json:"update_id"`
	Message     *message `json:"message"`
	EditedMsg   *message `json:"edited_message"`
	ChannelPost *message `json:"channel_post"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

// ParseUpdate parses a raw webhook body into a Command. allowChat, when
// non-empty, restricts commands to that chat id; anything else is ignored.
func ParseUpdate(raw []byte, allowChat string) (Command, error) {
	var u update
	if err := json.Unmarshal(raw, &u); err != nil {
		return Command{}, fmt.Errorf("decode update: %w", err)
	}

	msg := u.Message
	if msg == nil {
		msg = u.EditedMsg
	}
	if msg == nil {
		msg = u.ChannelPost
	}
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return Command{}, ErrNoText
	}
	if allowChat != "" && strconv.FormatInt(msg.Chat.ID, 10) != allowChat {
		return Command{}, ErrUnknownChat
	}

	cmd, err := parseCommandText(strings.TrimSpace(msg.Text))
	if err != nil {
		return Command{}, err
	}
	cmd.EventID = fmt.Sprintf("tg-%d", u.UpdateID)
	return cmd, nil
}

func parseCommandText(text string) (Command, error) {
	if m := phraseApproveRE.FindStringSubmatch(text); m != nil {
		id, err := ulid.Parse(m[1])
		if err != nil {
			return Command{}, fmt.Errorf("parse card id: %w", err)
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 {
			return Command{}, fmt.Errorf("phrase selector %q is not a positive number", m[2])
		}
		return Command{CardID: id, Kind: gate.GatePhrase, Decision: gate.DecisionApprove, Selector: n - 1}, nil
	}
	if m := phraseRejectRE.FindStringSubmatch(text); m != nil {
		return rejectCommand(m[1], gate.GatePhrase)
	}
	if m := imageApproveRE.FindStringSubmatch(text); m != nil {
		return approveCommand(m[1], gate.GateImage)
	}
	if m := imageRejectRE.FindStringSubmatch(text); m != nil {
		return rejectCommand(m[1], gate.GateImage)
	}
	if m := finalApproveRE.FindStringSubmatch(text); m != nil {
		return approveCommand(m[1], gate.GatePreview)
	}
	if m := finalRejectRE.FindStringSubmatch(text); m != nil {
		return rejectCommand(m[1], gate.GatePreview)
	}
	if m := regenerateRE.FindStringSubmatch(text); m != nil {
		id, err := ulid.Parse(m[1])
		if err != nil {
			return Command{}, fmt.Errorf("parse card id: %w", err)
		}
		return Command{CardID: id, Regenerate: true}, nil
	}
	return Command{}, ErrUnknownCommand
}

func approveCommand(idStr string, kind gate.GateKind) (Command, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return Command{}, fmt.Errorf("parse card id: %w", err)
	}
	return Command{CardID: id, Kind: kind, Decision: gate.DecisionApprove}, nil
}

func rejectCommand(idStr string, kind gate.GateKind) (Command, error) {
	id, err := ulid.Parse(idStr)
	if err != nil {
		return Command{}, fmt.Errorf("parse card id: %w", err)
	}
	return Command{CardID: id, Kind: kind, Decision: gate.DecisionReject}, nil
}
