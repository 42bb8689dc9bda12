// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package telegram implements a minimal client for the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"tgwarden/internal/logger"
	"tgwarden/internal/request"
	"tgwarden/internal/tgmarkup"
)

const (
	// APIEndpoint is the base URL of the Telegram Bot API.
	APIEndpoint = "https://api.telegram.org"

	// pollTimeout is the long polling timeout passed to getUpdates.
	pollTimeout = 30 * time.Second

	// sendRetryLimit is the number of attempts to retry message sending when
	// rate limited.
	sendRetryLimit = 5

	// maxMessageLen is the maximum length of a Telegram message in runes.
	maxMessageLen = 4096
)

// Client makes requests to the Telegram Bot API.
type Client struct {
	// Token is the bot token obtained from BotFather.
	Token string
	// HTTPClient is an optional HTTP client to use for requests. It should
	// have a timeout larger than the long polling timeout. Defaults to
	// request.DefaultClient.
	HTTPClient *http.Client
	// Scrubber is an optional strings.Replacer that scrubs unwanted data from
	// error messages.
	Scrubber *strings.Replacer
	// Logf is used for logging. If nil, nothing is logged.
	Logf logger.Logf

	// sleep pauses between rate-limited send attempts; mocked in tests.
	sleep func(context.Context, time.Duration) bool
}

// User represents a Telegram user or bot.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Chat represents a Telegram chat.
type Chat struct {
	ID int64 `json:"id"`
}

// Message represents a message received from or sent to a chat.
type Message struct {
	ID   int64  `json:"message_id"`
	From *User  `json:"from"`
	Chat Chat   `json:"chat"`
	Text string `json:"text"`
}

// CallbackQuery represents an incoming callback query from an inline keyboard
// button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message"`
	Data    string   `json:"data"`
}

// Update represents an incoming update from the getUpdates method.
type Update struct {
	ID            int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Button represents an inline keyboard button that sends a callback query
// when pressed.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

type response[Result any] struct {
	OK     bool   `json:"ok"`
	Result Result `json:"result"`
}

func makeRequest[Result any](ctx context.Context, c *Client, method string, args any) (Result, error) {
	resp, err := request.Make[response[Result]](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        APIEndpoint + "/bot" + c.Token + "/" + method,
		Body:       args,
		HTTPClient: c.HTTPClient,
		Scrubber:   c.Scrubber,
	})
	if err != nil {
		var zero Result
		return zero, err
	}
	return resp.Result, nil
}

// GetMe returns basic information about the bot. It is useful for validating
// the token at startup.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	return makeRequest[User](ctx, c, "getMe", nil)
}

// GetUpdates long polls the Bot API for new updates, starting from offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	return makeRequest[[]Update](ctx, c, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(pollTimeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	})
}

// MessageParams describes an outgoing message.
type MessageParams struct {
	// ChatID identifies the target chat.
	ChatID int64
	// Text is the message text.
	Text string
	// Markdown renders Text as Markdown into Telegram message entities.
	Markdown bool
	// ReplyTo is an optional ID of the message to reply to.
	ReplyTo int64
	// Keyboard is an optional inline keyboard attached to the message.
	Keyboard [][]Button
}

type sendMessageRequest struct {
	ChatID int64 `json:"chat_id"`
	tgmarkup.Message
	ReplyToMessageID   int64 `json:"reply_to_message_id,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

// SendMessage sends a message to a chat, splitting it into chunks if it's too
// long and retrying requests when rate limited.
func (c *Client) SendMessage(ctx context.Context, p MessageParams) error {
	req := &sendMessageRequest{
		ChatID:           p.ChatID,
		ReplyToMessageID: p.ReplyTo,
	}
	req.LinkPreviewOptions.IsDisabled = true
	if len(p.Keyboard) > 0 {
		req.ReplyMarkup = &replyMarkup{InlineKeyboard: p.Keyboard}
	}

	for _, chunk := range splitMessage(p.Text) {
		if p.Markdown {
			req.Message = tgmarkup.FromMarkdown(chunk)
		} else {
			req.Message = tgmarkup.Message{Text: chunk}
		}

		var err error
		for range sendRetryLimit {
			_, err = makeRequest[json.RawMessage](ctx, c, "sendMessage", req)
			if err == nil {
				break
			}

			retryable, wait := isRateLimited(err)
			if !retryable {
				break
			}

			c.logf("telegram: sending to chat %d rate limited, waiting %v", p.ChatID, wait)
			if !c.doSleep(ctx, wait) {
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	_, err := makeRequest[json.RawMessage](ctx, c, "editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	})
	return err
}

// AnswerCallbackQuery acknowledges a callback query so the client stops
// showing a progress indicator.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id string) error {
	_, err := makeRequest[json.RawMessage](ctx, c, "answerCallbackQuery", map[string]any{
		"callback_query_id": id,
	})
	return err
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

func (c *Client) doSleep(ctx context.Context, d time.Duration) bool {
	if c.sleep != nil {
		return c.sleep(ctx, d)
	}
	return sleep(ctx, d)
}

func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= maxMessageLen {
		return []string{text}
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxMessageLen {
			chunks = append(chunks, text)
			break
		}

		var (
			lastNewline    = -1
			lastWhitespace = -1
			byteCap        = len(text)
			runeCount      int
		)

		for i, r := range text {
			if runeCount == maxMessageLen {
				byteCap = i
				break
			}
			runeCount++

			if r == '\n' {
				lastNewline = i
				continue
			}
			if unicode.IsSpace(r) {
				lastWhitespace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastWhitespace > 0:
			splitAt = lastWhitespace
		}

		chunk := strings.TrimSpace(text[:splitAt])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}

	return chunks
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}

	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
