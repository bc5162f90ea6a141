package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"
)

const (
	// DefaultCallbackPort is the first port tried for the local callback.
	DefaultCallbackPort = 17890
	// LoginTimeout bounds the browser sign-in flow.
	LoginTimeout = 5 * time.Minute
)

// callbackData is what the sign-in page posts back to the CLI.
type callbackData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	State        string `json:"state"`
}

type loginResult struct {
	session Session
	err     error
}

// Login runs the browser sign-in flow: it serves a one-shot callback on
// localhost, opens authURL and installs the posted session in s.
func Login(ctx context.Context, authURL string, s *Sessions) (*Session, error) {
	port, err := findAvailablePort(DefaultCallbackPort)
	if err != nil {
		return nil, fmt.Errorf("find callback port: %w", err)
	}
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generate state: %w", err)
	}

	results := make(chan loginResult, 1)
	server, err := startCallbackServer(port, state, results)
	if err != nil {
		return nil, fmt.Errorf("start callback server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	target := fmt.Sprintf("%s?port=%d&state=%s", authURL, port, state)
	if err := openBrowser(target); err != nil {
		return nil, fmt.Errorf("open browser: %w\nOpen this URL manually: %s", err, target)
	}

	select {
	case res := <-results:
		if res.err != nil {
			return nil, res.err
		}
		if err := s.SetSession(res.session); err != nil {
			return nil, err
		}
		return s.Current(), nil
	case <-time.After(LoginTimeout):
		return nil, fmt.Errorf("sign-in timed out after %v", LoginTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func callbackHandler(expectedState string, results chan<- loginResult) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var data callbackData
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			send(results, loginResult{err: fmt.Errorf("invalid callback data: %w", err)})
			return
		}
		if data.State != expectedState {
			http.Error(w, "invalid state", http.StatusBadRequest)
			send(results, loginResult{err: fmt.Errorf("state mismatch")})
			return
		}
		if data.AccessToken == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			send(results, loginResult{err: fmt.Errorf("callback carried no access token")})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		send(results, loginResult{session: Session{
			AccessToken:  data.AccessToken,
			RefreshToken: data.RefreshToken,
			ExpiresAt:    data.ExpiresAt,
		}})
	})
	return mux
}

// send delivers without blocking; only the first result matters.
func send(results chan<- loginResult, res loginResult) {
	select {
	case results <- res:
	default:
	}
}

func startCallbackServer(port int, expectedState string, results chan<- loginResult) (*http.Server, error) {
	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           callbackHandler(expectedState, results),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := server.Serve(listener); err != http.ErrServerClosed {
			send(results, loginResult{err: fmt.Errorf("callback server: %w", err)})
		}
	}()
	return server, nil
}

func findAvailablePort(startPort int) (int, error) {
	for port := startPort; port < startPort+100; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			l.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port in range %d-%d", startPort, startPort+100)
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	return cmd.Start()
}
