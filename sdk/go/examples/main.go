package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OpenMCP-Intent/sdk/go/openmcp"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "session": openmcp.Session{
			Wallet:    "0x1111111111111111111111111111111111111111",
			Token:     "demo-token",
			Grants:    []string{"profile", "wallet"},
			ExpiresAt: time.Now().Add(time.Hour),
		}})
	})
	mux.HandleFunc("POST /api/v1/command", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openmcp.Response{
			OK:      true,
			Intent:  "check_balance",
			Feature: "wallet.balance.get",
			Message: "Your balance is 1.2500 ETH",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := openmcp.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := client.StartSession(ctx, "0x1111111111111111111111111111111111111111")
	if err != nil {
		panic(err)
	}
	fmt.Printf("session for %s with scopes %v\n", sess.Wallet, sess.Grants)

	resp, err := client.Run(ctx, openmcp.Command{Utterance: "check my balance"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s -> %s: %s\n", resp.Intent, resp.Feature, resp.Message)
}
