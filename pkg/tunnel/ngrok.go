package tunnel

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"
)

// Ngrok opens an ngrok HTTP tunnel forwarding to the local listener.
type Ngrok struct {
	authToken string
}

// NewNgrok creates an ngrok-backed Opener.
func NewNgrok(authToken string) *Ngrok {
	return &Ngrok{authToken: authToken}
}

// Open implements Opener.
func (n *Ngrok) Open(ctx context.Context, localAddr string) (string, io.Closer, error) {
	if n.authToken == "" {
		return "", nil, ErrNoAuthToken
	}
	backend, err := url.Parse("http://" + localAddr)
	if err != nil {
		return "", nil, fmt.Errorf("invalid local address %q: %w", localAddr, err)
	}

	forwarder, err := ngrok.ListenAndForward(ctx, backend,
		ngrokconfig.HTTPEndpoint(),
		ngrok.WithAuthtoken(n.authToken),
	)
	if err != nil {
		return "", nil, fmt.Errorf("failed to establish ngrok tunnel: %w", err)
	}
	return forwarder.URL(), forwarder, nil
}
