// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"tgwarden/internal/api/telegram"
	"tgwarden/internal/userstore"
)

const adminHelp = `Available commands:

/admin — this overview
/list — allowed users
/listgroups — groups with member counts
/assign <id> <group> — put a user into a group
/move <id> <group> — same as /assign
/removefromgroup <id> — clear the group of a user
/broadcast [group] — send a message to allowed users
/cancel — abort a pending broadcast
/delete <id> — remove a user record`

func (e *engine) handleAdminCommand(ctx context.Context, m *telegram.Message, cmd, args string) error {
	// Any command aborts a pending broadcast, except /cancel which does it
	// explicitly.
	if cmd != "cancel" {
		e.broadcast = nil
	}

	switch cmd {
	case "admin":
		stats := e.store.Stats()
		return e.reply(ctx, m, fmt.Sprintf(
			"%s\n\nUsers: %d allowed, %d pending, %d rejected, %d total.",
			adminHelp, stats.Allowed, stats.Pending, stats.Rejected, stats.Total,
		))
	case "list":
		return e.listAllowed(ctx, m)
	case "listgroups":
		return e.listGroups(ctx, m)
	case "assign", "move":
		id, group, err := parseIDAndGroup(args)
		if err != nil {
			return e.reply(ctx, m, fmt.Sprintf("Usage: /%s <id> <group>", cmd))
		}
		if err := e.store.AssignGroup(id, group); err != nil {
			return e.reply(ctx, m, storeErrorText(id, err))
		}
		return e.reply(ctx, m, fmt.Sprintf("User %d is now in group %q.", id, group))
	case "removefromgroup":
		id, err := strconv.ParseInt(args, 10, 64)
		if err != nil {
			return e.reply(ctx, m, "Usage: /removefromgroup <id>")
		}
		if err := e.store.RemoveFromGroup(id); err != nil {
			return e.reply(ctx, m, storeErrorText(id, err))
		}
		return e.reply(ctx, m, fmt.Sprintf("User %d removed from their group.", id))
	case "broadcast":
		group := args
		e.broadcast = &broadcastSession{group: group}
		target := "all allowed users"
		if group != "" && group != "all" {
			target = fmt.Sprintf("group %q", group)
		}
		return e.reply(ctx, m, fmt.Sprintf("Send the message to broadcast to %s, or /cancel to abort.", target))
	case "cancel":
		if e.broadcast == nil {
			return e.reply(ctx, m, "Nothing to cancel.")
		}
		e.broadcast = nil
		return e.reply(ctx, m, "Broadcast canceled.")
	case "delete":
		id, err := strconv.ParseInt(args, 10, 64)
		if err != nil {
			return e.reply(ctx, m, "Usage: /delete <id>")
		}
		rec, err := e.store.Delete(id)
		if err != nil {
			return e.reply(ctx, m, storeErrorText(id, err))
		}
		return e.reply(ctx, m, fmt.Sprintf("Deleted user %d (%s, status %s).", id, rec.FirstName, rec.Status))
	default:
		return e.reply(ctx, m, "Unknown command. Send /admin for the list of available commands.")
	}
}

func (e *engine) listAllowed(ctx context.Context, m *telegram.Message) error {
	users := e.store.Allowed("")
	if len(users) == 0 {
		return e.reply(ctx, m, "No allowed users.")
	}

	var (
		sb       strings.Builder
		keyboard [][]telegram.Button
	)
	sb.WriteString("Allowed users:\n")
	for _, u := range users {
		fmt.Fprintf(&sb, "\n%s (%d)", u.FirstName, u.ID)
		if u.Group != "" {
			fmt.Fprintf(&sb, " [%s]", u.Group)
		}
		keyboard = append(keyboard, []telegram.Button{{
			Text:         fmt.Sprintf("🚫 Ban %s", u.FirstName),
			CallbackData: fmt.Sprintf("ban_%d", u.ID),
		}})
	}

	return e.tg.SendMessage(ctx, telegram.MessageParams{
		ChatID:   m.Chat.ID,
		Text:     sb.String(),
		ReplyTo:  m.ID,
		Keyboard: keyboard,
	})
}

func (e *engine) listGroups(ctx context.Context, m *telegram.Message) error {
	groups := e.store.Groups()
	if len(groups) == 0 {
		return e.reply(ctx, m, "No groups.")
	}

	var sb strings.Builder
	sb.WriteString("Groups:\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "\n%s — %d member(s)", g.Name, g.Members)
	}
	return e.reply(ctx, m, sb.String())
}

// runBroadcast delivers the administrator message to the session's targets.
// The session is consumed whatever the outcome. Per-recipient delivery
// failures are counted, never aborting the rest.
func (e *engine) runBroadcast(ctx context.Context, m *telegram.Message) error {
	session := e.broadcast
	e.broadcast = nil

	targets := e.store.Allowed(session.group)
	if len(targets) == 0 {
		return e.reply(ctx, m, "No users to broadcast to (0/0 sent).")
	}

	var sent int
	for _, u := range targets {
		err := e.tg.SendMessage(ctx, telegram.MessageParams{
			ChatID: u.ID,
			Text:   m.Text,
		})
		if err != nil {
			e.logf("broadcast: sending to user %d: %v", u.ID, err)
			continue
		}
		sent++
	}

	return e.reply(ctx, m, fmt.Sprintf("Broadcast delivered to %d/%d users.", sent, len(targets)))
}

// handleCallback processes a press on an inline keyboard button. Only the
// administrator presses are acted upon: allow_<id> and reject_<id> from the
// approval prompt, ban_<id> from the /list keyboard.
func (e *engine) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) error {
	// Always acknowledge, otherwise the client shows a progress indicator
	// until it times out.
	if err := e.tg.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		e.logf("main: answering callback query %s: %v", cb.ID, err)
	}

	if cb.From.ID != e.adminID || cb.Message == nil {
		return nil
	}

	verb, rawID, ok := strings.Cut(cb.Data, "_")
	if !ok {
		return fmt.Errorf("malformed callback data %q", cb.Data)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed callback data %q: %v", cb.Data, err)
	}

	var rec userstore.Record
	switch verb {
	case "allow":
		rec, err = e.store.Decide(id, userstore.StatusAllowed)
	case "reject":
		rec, err = e.store.Decide(id, userstore.StatusRejected)
	case "ban":
		rec, err = e.store.Ban(id)
	default:
		return fmt.Errorf("unknown callback verb %q", verb)
	}
	if errors.Is(err, userstore.ErrNotFound) {
		return e.tg.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.ID, "Error: User not found.")
	}
	if err != nil {
		return err
	}

	if err := e.tg.EditMessageText(ctx, cb.Message.Chat.ID, cb.Message.ID,
		fmt.Sprintf("Decision made: %s for user %d.", rec.Status, id)); err != nil {
		return err
	}

	// Bans are silent, decisions on an access request notify the user.
	if verb == "ban" {
		return nil
	}
	notify := approvedText
	if rec.Status != userstore.StatusAllowed {
		notify = rejectedText
	}
	return e.tg.SendMessage(ctx, telegram.MessageParams{ChatID: id, Text: notify})
}

func storeErrorText(id int64, err error) string {
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		return fmt.Sprintf("User %d not found.", id)
	case errors.Is(err, userstore.ErrNotAllowed):
		return fmt.Sprintf("User %d is not an allowed user.", id)
	default:
		return fmt.Sprintf("Failed: %v.", err)
	}
}

func parseIDAndGroup(args string) (int64, string, error) {
	rawID, group, ok := strings.Cut(args, " ")
	if !ok || group == "" {
		return 0, "", errors.New("missing group")
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, "", err
	}
	return id, strings.TrimSpace(group), nil
}
