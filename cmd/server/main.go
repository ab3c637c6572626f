package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"heartlink/internal/api"
	"heartlink/internal/auth"
	"heartlink/internal/config"
	"heartlink/internal/db"
	"heartlink/internal/middleware"
	"heartlink/internal/repository"
	"heartlink/internal/server"
	"heartlink/internal/tasks"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  512,
	WriteBufferSize: 512,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func serveWS(h *server.Hub, authKey []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		claims, err := auth.ValidateToken(token, authKey)
		if err != nil {
			log.Printf("[WS] Rejected connection from %s: %v", r.RemoteAddr, err)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Upgrade error: %v", err)
			return
		}

		client := &server.Client{
			Hub:     h,
			Conn:    conn,
			Send:    make(chan []byte, 256),
			UserID:  claims.UserID,
			Limiter: middleware.NewRateLimiter(5, 500*time.Millisecond),
		}

		client.Hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}

func main() {
	cfg := config.Load()
	cfg.RequireServer()
	authKey := []byte(cfg.AuthKey)

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer pool.Close()

	messages := repository.NewMessagesRepo(pool)
	rooms := repository.NewRoomsRepo(pool)
	users := repository.NewUsersRepo(pool)
	matches := repository.NewMatchesRepo(pool)

	h := server.NewHub(messages, rooms, users)
	go h.Run()

	tasks.NewMatchSweeper(matches).Start()

	authed := middleware.Authenticate(authKey)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", serveWS(h, authKey))
	mux.HandleFunc("POST /auth/login", api.LoginHandler(users, authKey))
	mux.HandleFunc("POST /auth/register", api.RegisterHandler(users))
	mux.Handle("GET /chats/rooms", authed(api.RoomsHandler(rooms)))
	mux.Handle("GET /chats/message/{room_id}", authed(api.MessagesHandler(rooms, messages)))
	mux.Handle("GET /datings/match", authed(api.MatchHandler(matches)))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	addr := ":" + cfg.Port
	go func() {
		fmt.Printf("🚀 heartlink server starting on %s...\n", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			if err != http.ErrServerClosed {
				log.Fatalf("ListenAndServe: %v", err)
			}
		}
	}()

	<-stop

	fmt.Println("\nShutdown signal received. Cleaning up...")
	close(h.Quit)

	time.Sleep(1 * time.Second)
	fmt.Println("Graceful shutdown complete. Goodnight!")
}
