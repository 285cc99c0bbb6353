package oauth

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
)

// CallbackResult is what the browser redirect delivered.
type CallbackResult struct {
	Code  string
	State string
}

// CallbackServer is a loopback HTTP server that receives the OAuth redirect
// during the authorization-code flow. It serves a single callback and is
// provider-agnostic.
type CallbackServer struct {
	server     *http.Server
	listener   net.Listener
	port       int
	resultChan chan CallbackResult
	errChan    chan error
	mu         sync.Mutex
}

// NewCallbackServer creates a callback server. With port 0 the OS picks a
// free one; fixed ports are needed when the provider app registration pins
// the redirect URL.
func NewCallbackServer(port int) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	s := &CallbackServer{
		listener:   listener,
		port:       listener.Addr().(*net.TCPAddr).Port,
		resultChan: make(chan CallbackResult, 1),
		errChan:    make(chan error, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", s.handleCallback)

	s.server = &http.Server{
		Handler: mux,
	}

	return s, nil
}

// Start starts serving in the background.
func (s *CallbackServer) Start() {
	go func() {
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			log.Printf("oauth callback server error: %v", err)
		}
	}()
}

// Stop shuts the server down.
func (s *CallbackServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		s.server.Shutdown(context.Background())
	}
}

// RedirectURL returns the URL to register as the OAuth redirect.
func (s *CallbackServer) RedirectURL() string {
	return fmt.Sprintf("http://localhost:%d/callback", s.port)
}

// WaitForCallback blocks until the redirect arrives or ctx expires.
func (s *CallbackServer) WaitForCallback(ctx context.Context) (CallbackResult, error) {
	select {
	case result := <-s.resultChan:
		return result, nil
	case err := <-s.errChan:
		return CallbackResult{}, err
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		errMsg := r.URL.Query().Get("error")
		if errMsg == "" {
			errMsg = "no authorization code received"
		}
		// Non-blocking: duplicate redirects must not hang the handler
		select {
		case s.errChan <- fmt.Errorf("authorization failed: %s", errMsg):
		default:
		}
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	// Only the first redirect counts; later ones are dropped
	select {
	case s.resultChan <- CallbackResult{Code: code, State: r.URL.Query().Get("state")}:
	default:
	}

	// Show success page
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, `
<!DOCTYPE html>
<html>
<head>
	<title>billsync - Authorization Successful</title>
	<style>
		body {
			font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
			display: flex;
			justify-content: center;
			align-items: center;
			height: 100vh;
			margin: 0;
			background: linear-gradient(135deg, #1f538d 0%, #14375e 100%);
			color: white;
		}
		.container {
			text-align: center;
			padding: 40px;
			background: rgba(255,255,255,0.1);
			border-radius: 16px;
			backdrop-filter: blur(10px);
		}
		h1 { font-size: 2em; margin-bottom: 16px; }
		p { font-size: 1.2em; opacity: 0.9; }
	</style>
</head>
<body>
	<div class="container">
		<h1>Authorization Successful!</h1>
		<p>You can close this window and return to billsync.</p>
	</div>
</body>
</html>
`)
}
