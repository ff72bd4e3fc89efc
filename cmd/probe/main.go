// Command probe connects to a relay as one user and prints every event it receives.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"vaani/internal/models"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("url", "ws://localhost:5000/socket", "Relay socket URL")
	token := flag.String("token", "", "Access token (see vaani -issue-token)")
	join := flag.String("join", "", "Chat id to join after connecting")
	flag.Parse()

	if *token == "" {
		fmt.Println("Usage: probe -token <jwt> [-url ws://host:port/socket] [-join <chatId>]")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	header := http.Header{"Authorization": []string{"Bearer " + *token}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, *addr, header)
	if err != nil {
		if resp != nil {
			fmt.Printf("Error connecting: %v (HTTP %d)\n", err, resp.StatusCode)
		} else {
			fmt.Printf("Error connecting: %v\n", err)
		}
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if *join != "" {
		data, _ := json.Marshal(*join)
		if err := conn.WriteJSON(models.Frame{Event: models.EventJoinChat, Data: data}); err != nil {
			fmt.Printf("Error joining %s: %v\n", *join, err)
			os.Exit(1)
		}
	}

	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				fmt.Printf("Connection closed: %v\n", err)
			}
			return
		}
		fmt.Printf("%s %s\n", frame.Event, frame.Data)
	}
}
