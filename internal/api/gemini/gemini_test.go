// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"tgwarden/internal/testutil"
)

type roundTripFunc func(r *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func testClient(mux *http.ServeMux) *Client {
	return &Client{
		APIKey: "test",
		Model:  "gemini-1.5-flash",
		HTTPClient: &http.Client{
			Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, r)
				return w.Result(), nil
			}),
		},
	}
}

func TestGenerateText(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent", func(w http.ResponseWriter, r *http.Request) {
		testutil.AssertEqual(t, r.Header.Get("x-goog-api-key"), "test")

		params := testutil.UnmarshalJSON[GenerateContentParams](t, read(t, r))
		testutil.AssertEqual(t, params.Contents[0].Parts[0].Text, "Hello!")

		json.NewEncoder(w).Encode(GenerateContentResponse{
			Candidates: []*Candidate{
				{Content: &Content{Parts: []*Part{{Text: "Hi there, "}, {Text: "human."}}}},
			},
		})
	})

	got, err := testClient(mux).GenerateText(context.Background(), "Hello!")
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, got, "Hi there, human.")
}

func TestGenerateTextNoCandidates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST generativelanguage.googleapis.com/{path...}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{}"))
	})

	_, err := testClient(mux).GenerateText(context.Background(), "Hello!")
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("got %v, want ErrNoCandidates", err)
	}
}

func read(t *testing.T, r *http.Request) []byte {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
