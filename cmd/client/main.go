package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"heartlink/internal/auth"
	"heartlink/internal/chat"
	"heartlink/internal/config"
	"heartlink/internal/connection"
	"heartlink/internal/history"
	"heartlink/internal/protocol"
)

func main() {
	cfg := config.Load()

	token := os.Getenv("SESSION_TOKEN")
	if token == "" {
		log.Fatal("SESSION_TOKEN is required (obtain one via POST /auth/login)")
	}

	claims, err := auth.ExtractClaims(token)
	if err != nil {
		log.Fatalf("Stored session token is unusable: %v", err)
	}

	manager := connection.NewManager(
		cfg.ServerURL+"?token="+token,
		cfg.ReconnectAttempts,
		cfg.ReconnectDelay,
	)
	manager.OnFailure(func(err error) {
		fmt.Printf("\n⚠️  Connection lost for good: %v\n", err)
	})

	api := history.NewClient(cfg.APIBaseURL, token)
	session := chat.NewSession(claims.UserID, manager, api, cfg.TypingTimeout)
	session.OnNotice(func(msg string) {
		fmt.Printf("\n⚠️  Server: %s\n", msg)
	})

	if err := manager.Connect(connection.Credentials{Token: token, UserID: claims.UserID}); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer manager.Disconnect()

	session.Attach()
	defer session.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = session.Refresh(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Failed to load rooms: %v", err)
	}

	fmt.Printf("Connected as %s. Commands: /rooms, /open <n>, /recall <id>, /match, /quit. Anything else sends.\n", claims.UserID)
	printRooms(session.Rooms())

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return

		case line == "/rooms":
			printRooms(session.Rooms())

		case line == "/match":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			match, err := api.CurrentMatch(ctx)
			cancel()
			if err != nil {
				fmt.Printf("No match: %v\n", err)
				continue
			}
			fmt.Printf("💘 Matched with %s, expires %s\n", match.Friend.FullName,
				match.ExpiresAt.Format(time.RFC822))

		case strings.HasPrefix(line, "/open "):
			idx, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
			rooms := session.Rooms()
			if err != nil || idx < 1 || idx > len(rooms) {
				fmt.Println("Usage: /open <room number from /rooms>")
				continue
			}
			room := rooms[idx-1]
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = session.SelectRoom(ctx, room.RoomID)
			cancel()
			if err != nil {
				fmt.Printf("Failed to open room: %v\n", err)
				continue
			}
			fmt.Printf("-- %s (%s) --\n", room.Friend.FullName, room.Friend.Status)
			for _, msg := range session.Messages() {
				printMessage(claims.UserID, msg)
			}

		case strings.HasPrefix(line, "/recall "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/recall "))
			if err := session.RecallMessage(id); err != nil {
				fmt.Printf("Recall failed: %v\n", err)
			}

		case line != "":
			session.Typing()
			if err := session.Send(line, ""); err != nil {
				fmt.Printf("Send failed: %v\n", err)
			}
		}
	}
}

func printRooms(rooms []protocol.Room) {
	for i, room := range rooms {
		preview := ""
		if room.LastMessage != nil {
			preview = room.LastMessage.Content
		}
		fmt.Printf("%2d. %s [%s] %s\n", i+1, room.Friend.FullName, room.Friend.Status, preview)
	}
}

func printMessage(self string, msg protocol.Message) {
	who := msg.SenderID
	if msg.SenderID == self {
		who = "me"
	}
	body := msg.Content
	if msg.ImageURL != "" {
		body = strings.TrimSpace(body + " 📎 " + msg.ImageURL)
	}
	fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04"), who, body)
}
