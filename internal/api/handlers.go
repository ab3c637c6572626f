package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"heartlink/internal/auth"
	"heartlink/internal/middleware"
	"heartlink/internal/protocol"
	"heartlink/internal/repository"
)

// uniqueViolation is the postgres error code for duplicate keys.
const uniqueViolation = "23505"

const historyLimit = 200

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

type userDTO struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func LoginHandler(users repository.UserRepo, authKey []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload loginRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			log.Printf("[LOGIN] Decode error: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		payload.Username = strings.TrimSpace(payload.Username)
		if payload.Username == "" || payload.Password == "" {
			log.Println("[LOGIN] Attempt with empty username or password")
			writeError(w, http.StatusBadRequest, "Username and password are required")
			return
		}

		user, err := users.GetByUsername(r.Context(), payload.Username)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				log.Printf("[LOGIN] User not found: %s", payload.Username)
				writeError(w, http.StatusUnauthorized, "Invalid username or password")
				return
			}
			log.Printf("[LOGIN] Database error for %s: %v", payload.Username, err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		if !auth.VerifyPassword(payload.Password, user.PasswordHash) {
			log.Printf("[LOGIN] Invalid password for user: %s", payload.Username)
			writeError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}

		token, err := auth.GenerateToken(user.ID, authKey)
		if err != nil {
			log.Printf("[LOGIN] Token generation failed for %s: %v", user.ID, err)
			writeError(w, http.StatusInternalServerError, "Failed to create session")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"token": token,
			"user":  userDTO{ID: user.ID, Username: user.Username, FullName: user.FullName},
		})
	}
}

func RegisterHandler(users repository.UserRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload registerRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		payload.Username = strings.TrimSpace(payload.Username)
		payload.FullName = strings.TrimSpace(payload.FullName)
		if payload.Username == "" || payload.FullName == "" || len(payload.Password) < 8 {
			writeError(w, http.StatusBadRequest, "Username, full name and a password of 8+ characters are required")
			return
		}

		hashed, err := auth.HashPassword(payload.Password)
		if err != nil {
			log.Printf("[REGISTER] Hashing failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		user := &repository.User{
			ID:           uuid.NewString(),
			Username:     payload.Username,
			FullName:     payload.FullName,
			PasswordHash: hashed,
			Status:       protocol.PresenceOffline,
			CreatedAt:    time.Now(),
		}

		if err := users.Create(r.Context(), user); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				writeError(w, http.StatusConflict, "Username already taken")
				return
			}
			log.Printf("[REGISTER] Database error: %v", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		writeJSON(w, http.StatusCreated, userDTO{ID: user.ID, Username: user.Username, FullName: user.FullName})
	}
}

// RoomsHandler serves GET /chats/rooms.
func RoomsHandler(rooms repository.RoomRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		list, err := rooms.ListForUser(r.Context(), userID)
		if err != nil {
			log.Printf("[API] Room list failed for %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "Failed to load rooms")
			return
		}
		if list == nil {
			list = []protocol.Room{}
		}

		writeJSON(w, http.StatusOK, map[string]any{"rooms": list})
	}
}

// MessagesHandler serves GET /chats/message/{room_id}.
func MessagesHandler(rooms repository.RoomRepo, messages repository.MessageRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		roomID := r.PathValue("room_id")
		if roomID == "" {
			writeError(w, http.StatusBadRequest, "Room id is required")
			return
		}

		member, err := rooms.IsMember(r.Context(), roomID, userID)
		if err != nil {
			log.Printf("[API] Membership check failed for room %s: %v", roomID, err)
			writeError(w, http.StatusInternalServerError, "Failed to load messages")
			return
		}
		if !member {
			writeError(w, http.StatusForbidden, "Not a member of this room")
			return
		}

		list, err := messages.FetchByRoom(r.Context(), roomID, historyLimit)
		if err != nil {
			log.Printf("[API] Message fetch failed for room %s: %v", roomID, err)
			writeError(w, http.StatusInternalServerError, "Failed to load messages")
			return
		}
		if list == nil {
			list = []protocol.Message{}
		}

		writeJSON(w, http.StatusOK, map[string]any{"messages": list})
	}
}

// MatchHandler serves GET /datings/match: the caller's live dating
// match, or match: null when there is none (or it expired).
func MatchHandler(matches repository.MatchRepo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		match, err := matches.CurrentForUser(r.Context(), userID)
		if errors.Is(err, repository.ErrNoMatch) {
			writeJSON(w, http.StatusOK, map[string]any{"match": nil})
			return
		}
		if err != nil {
			log.Printf("[API] Match lookup failed for %s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "Failed to load match")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"match": match})
	}
}
