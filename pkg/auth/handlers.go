package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/antibyte/webterm/pkg/logger"
)

// SessionRequest optionally carries a previously issued token so the
// browser keeps its profile across reloads.
type SessionRequest struct {
	Token string `json:"token,omitempty"`
}

// SessionResponse is returned by HandleCreateSession.
type SessionResponse struct {
	Success   bool   `json:"success"`
	ProfileID string `json:"profileId,omitempty"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message"`
}

// HandleCreateSession issues a profile token. A valid token in the request
// body, header or cookie keeps its profile; otherwise a new profile is made.
func HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		logger.Warn(logger.AreaAuth, "Invalid method for session creation: %s", r.Method)
		respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SessionRequest
	if r.Body != nil {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Warn(logger.AreaAuth, "Invalid JSON in session request: %v", err)
			respondWithError(w, "Invalid request format", http.StatusBadRequest)
			return
		}
	}
	if req.Token == "" {
		req.Token, _ = ExtractTokenFromRequest(r)
	}

	clientIP := GetClientIP(r)
	profileID := ""
	message := "Session created successfully"
	if req.Token != "" {
		if claims, err := ValidateProfileToken(req.Token); err == nil {
			profileID = claims.ProfileID
			message = "Session resumed"
		} else {
			logger.Info(logger.AreaAuth, "Stale token from %s, issuing new profile: %v", clientIP, err)
		}
	}
	if profileID == "" {
		profileID = NewProfileID()
		logger.Info(logger.AreaAuth, "New profile %s for IP %s", profileID, clientIP)
	}

	token, err := GenerateProfileToken(profileID)
	if err != nil {
		logger.Error(logger.AreaAuth, "Failed to generate token for profile %s: %v", profileID, err)
		respondWithError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(getTokenLifetime().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	json.NewEncoder(w).Encode(SessionResponse{
		Success:   true,
		ProfileID: profileID,
		Token:     token,
		Message:   message,
	})
}

// GetClientIP returns the first X-Forwarded-For hop, X-Real-IP or the
// remote host without port.
func GetClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(SessionResponse{
		Success: false,
		Message: message,
	})
}
