// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"strings"

	"tgwarden/internal/api/telegram"
	"tgwarden/internal/userstore"
)

// Texts sent to users.
const (
	welcomeBackText  = "Welcome back! You are an approved user."
	stillPendingText = "Your request for access is still pending."
	deniedText       = "Sorry, your request for access was denied."
	requestSentText  = "Hello! Your request for access has been sent to the administrator. Please wait for approval."
	approvedText     = "✅ Your request for access has been approved! You can now ask questions."
	rejectedText     = "❌ Your request for access has been denied."
	noAccessText     = "You do not have access. Please send /start to request access."
)

func (e *engine) handleUpdate(ctx context.Context, upd telegram.Update) {
	var err error
	switch {
	case upd.CallbackQuery != nil:
		err = e.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		err = e.handleMessage(ctx, upd.Message)
	}
	if err != nil {
		e.logf("main: handling update %d: %v", upd.ID, err)
	}
}

func (e *engine) handleMessage(ctx context.Context, m *telegram.Message) error {
	if m.From == nil {
		return nil
	}

	cmd, args := parseCommand(m.Text)

	// /start is open to everyone, it is how access is requested.
	if cmd == "start" {
		return e.handleStart(ctx, m)
	}

	if m.From.ID == e.adminID {
		if cmd != "" {
			return e.handleAdminCommand(ctx, m, cmd, args)
		}
		if e.broadcast != nil {
			return e.runBroadcast(ctx, m)
		}
		return e.reply(ctx, m, "Send /admin for the list of available commands.")
	}

	// Unknown commands from regular users go through the same access gate
	// as plain text.
	if !e.store.IsAllowed(m.From.ID) {
		return e.reply(ctx, m, noAccessText)
	}
	return e.relay(ctx, m)
}

func (e *engine) handleStart(ctx context.Context, m *telegram.Message) error {
	rec, created, err := e.store.Register(m.From.ID, m.From.FirstName, m.From.Username)
	if err != nil {
		return err
	}

	if !created {
		switch e.store.Status(m.From.ID) {
		case userstore.StatusAllowed:
			return e.reply(ctx, m, welcomeBackText)
		case userstore.StatusPending:
			return e.reply(ctx, m, stillPendingText)
		default:
			return e.reply(ctx, m, deniedText)
		}
	}

	if err := e.reply(ctx, m, requestSentText); err != nil {
		return err
	}

	return e.tg.SendMessage(ctx, telegram.MessageParams{
		ChatID: e.adminID,
		Text: fmt.Sprintf("❗️ New access request:\n\nName: %s\nUsername: @%s\nTelegram ID: %d",
			rec.FirstName, rec.Username, m.From.ID),
		Keyboard: [][]telegram.Button{
			{
				{Text: "✅ Allow", CallbackData: fmt.Sprintf("allow_%d", m.From.ID)},
				{Text: "❌ Reject", CallbackData: fmt.Sprintf("reject_%d", m.From.ID)},
			},
		},
	})
}

// parseCommand extracts a bot command from the message text: for
// "/assign 42 friends" it returns ("assign", "42 friends"). Non-command
// messages return an empty command. A trailing @botname on the command is
// dropped.
func parseCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	cmd, args, _ = strings.Cut(text[1:], " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func (e *engine) reply(ctx context.Context, m *telegram.Message, text string) error {
	return e.tg.SendMessage(ctx, telegram.MessageParams{
		ChatID:  m.Chat.ID,
		Text:    text,
		ReplyTo: m.ID,
	})
}
