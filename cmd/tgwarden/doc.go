// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Tgwarden is a Telegram bot that gates access to a Gemini-backed question
answering relay behind administrator approval.

A new user sends /start and lands in a pending queue; the administrator gets a
prompt with inline Allow and Reject buttons. Approved users have their plain
text messages answered by Gemini; everyone else is told how to request access.
The administrator manages users with commands: /admin, /list, /listgroups,
/assign, /move, /removefromgroup, /broadcast, /delete and /cancel.

User records are kept in a single JSON file rewritten on every change.

# Usage

	$ tgwarden

Tgwarden is configured through environment variables:

  - TG_TOKEN: Telegram bot token (required).
  - GEMINI_KEY: Gemini API key (required).
  - TG_ADMIN: Telegram user ID of the administrator (required).
  - GEMINI_MODEL: Gemini model to use, gemini-1.5-flash by default.
  - USERS_FILE: path to the user records file, users.json by default.
  - PORT: port the liveness endpoint listens on, 5000 by default.
  - DEBUG_TOKEN: if set, enables the /debug/users and /debug/log endpoints
    protected by this token.

# Debug endpoints

With DEBUG_TOKEN set, pass it in the Authorization header as a bearer token:

	$ curl -H "Authorization: Bearer $DEBUG_TOKEN" http://localhost:5000/debug/log
*/
package main

import (
	_ "embed"

	"tgwarden/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
