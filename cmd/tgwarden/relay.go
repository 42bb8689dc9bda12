// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"

	"tgwarden/internal/api/telegram"
)

const apologyText = "Sorry, an error occurred while processing your request."

// relay forwards the message text of an allowed user to Gemini and replies
// with the generated answer. A backend failure is logged and answered with a
// fixed apology, it never propagates.
func (e *engine) relay(ctx context.Context, m *telegram.Message) error {
	answer, err := e.geminic.GenerateText(ctx, m.Text)
	if err != nil {
		e.logf("relay: generating answer for user %d: %v", m.From.ID, err)
		return e.reply(ctx, m, apologyText)
	}

	// Gemini answers in Markdown.
	return e.tg.SendMessage(ctx, telegram.MessageParams{
		ChatID:   m.Chat.ID,
		Text:     answer,
		Markdown: true,
		ReplyTo:  m.ID,
	})
}
