// Package tunnel abstracts the third-party tunnel used to expose the
// webhook listener when the host is not externally reachable. The actual
// dialing lives behind the Opener interface; the server only manages the
// tunnel's lifecycle (open before adopting the public URL, close before
// releasing the port).
package tunnel

import (
	"context"
	"errors"
	"io"
	"time"
)

// ReadyTimeout bounds how long tunnel establishment may take.
const ReadyTimeout = 30 * time.Second

// ErrNoAuthToken indicates tunnel mode was requested without a token.
var ErrNoAuthToken = errors.New("tunnel auth token not configured")

// Opener establishes a tunnel to a local address and returns the public
// URL. The returned closer tears the tunnel down.
type Opener interface {
	Open(ctx context.Context, localAddr string) (publicURL string, closer io.Closer, err error)
}

// Disabled is an Opener for externally-reachable hosts: it never opens a
// tunnel and reports the failure if asked to.
type Disabled struct{}

// Open implements Opener.
func (Disabled) Open(context.Context, string) (string, io.Closer, error) {
	return "", nil, errors.New("tunnel disabled")
}
