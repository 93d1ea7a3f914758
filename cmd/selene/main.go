package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/seleneai/selene/internal/agent"
	"github.com/seleneai/selene/internal/chatlog"
	"github.com/seleneai/selene/internal/config"
	"github.com/seleneai/selene/internal/llm"
	"github.com/seleneai/selene/internal/logger"
	"github.com/seleneai/selene/internal/preload"
	"github.com/seleneai/selene/internal/repair"
	"github.com/seleneai/selene/internal/session"
)

type chatRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Text     string `json:"text"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L.Error("failed to load configuration", "error", err)
		return
	}
	logger.SetLevel(cfg.LogLevel)

	pre := preload.Load(cfg.Chat.PreloadFile)

	store := session.NewStore(session.StoreConfig{
		Defaults:       samplingParams(cfg.Sampling),
		Budgets:        cfg.Models,
		Personality:    pre.Personality,
		Preload:        pre.Dialogue,
		PreloadEnabled: cfg.Chat.PreloadEnabled && pre.LoadExample,
	})

	gateway := llm.NewGateway(llm.NewClient(cfg.LLM), cfg.LLM.Timeout)
	repairer := repair.New(cfg.Repair.Abbreviations, cfg.Repair.DanglingTokens)
	audit := chatlog.New(cfg.Chat.ChatLogPath)

	coordinator := agent.New(gateway, store, repairer, audit, cfg.Chat.ContinuationPrompt)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChat(w, r)
		if !ok {
			return
		}
		directive, err := coordinator.Chat(r.Context(), req.UserID, req.Username, req.Text)
		respond(w, directive, err)
	})

	mux.HandleFunc("POST /continue", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChat(w, r)
		if !ok {
			return
		}
		directive, err := coordinator.Continue(r.Context(), req.UserID)
		respond(w, directive, err)
	})

	mux.HandleFunc("POST /reroll", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChat(w, r)
		if !ok {
			return
		}
		directive, err := coordinator.Reroll(r.Context(), req.UserID)
		respond(w, directive, err)
	})

	mux.HandleFunc("POST /clear", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeChat(w, r)
		if !ok {
			return
		}
		coordinator.Clear(req.UserID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	})

	mux.HandleFunc("GET /history", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, coordinator.History(userID))
	})

	mux.HandleFunc("GET /params", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, coordinator.Params(r.URL.Query().Get("user_id")))
	})

	mux.HandleFunc("POST /params", func(w http.ResponseWriter, r *http.Request) {
		var p session.Params
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		coordinator.ReloadDefaults(p)
		writeJSON(w, http.StatusOK, p)
	})

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.L.Info("starting server", "address", serverAddr)
	if err := http.ListenAndServe(serverAddr, mux); err != nil {
		logger.L.Error("failed to start server", "error", err)
	}
}

func samplingParams(s config.Sampling) session.Params {
	return session.Params{
		Model:            s.Model,
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		MaxTokens:        s.MaxTokens,
		PresencePenalty:  s.PresencePenalty,
		FrequencyPenalty: s.FrequencyPenalty,
	}
}

func decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return chatRequest{}, false
	}
	return req, true
}

// respond writes the directive, or the fixed user-facing message for the
// failure. Precondition rejections get a 409; everything else a 502, since
// the fault is upstream of this process.
func respond(w http.ResponseWriter, directive agent.Directive, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, directive)
		return
	}
	status := http.StatusBadGateway
	if errors.Is(err, agent.ErrBusy) || errors.Is(err, agent.ErrNoLastResponse) || errors.Is(err, agent.ErrNothingToReroll) {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": agent.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Warn("failed to encode response", "error", err)
	}
}
