// Command fakemodel serves a stand-in for the generateContent endpoint so the
// server can be exercised locally without a model credential. It answers
// every request by echoing the last user message.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

func newRouter(logger *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/models/{model}:generateContent", func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":{"message":"invalid body"}}`, http.StatusBadRequest)
			return
		}

		var question string
		if n := len(req.Contents); n > 0 && len(req.Contents[n-1].Parts) > 0 {
			question = req.Contents[n-1].Parts[0].Text
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": content{
					Role:  "model",
					Parts: []part{{Text: "<p>You asked: " + question + "</p>"}},
				},
				"finishReason": "STOP",
			}},
		})

		logger.Info("received request",
			slog.String("model", mux.Vars(r)["model"]),
			slog.Int("prompt_chars", len(question)),
		)
	}).Methods("POST")
	return router
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("fake model starting", slog.String("addr", *addr))
	if err := http.ListenAndServe(*addr, newRouter(logger)); err != nil {
		logger.Error("fake model stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
