package coordtest

import (
	"testing"
	"time"

	"github.com/kimbyungsang/cranberries/internal/coord"
)

const settleTimeout = 3 * time.Second

// NewClient starts a fake server and a client rooted at base. The client is
// closed when the test ends.
func NewClient(t *testing.T, base string) (*Server, *coord.Client) {
	t.Helper()
	srv := NewServer()
	client := coord.New(srv, srv.Events(), base)
	t.Cleanup(client.Close)
	return srv, client
}

// Settle waits until every notification the server sent has been fully
// handled by the client, including the work its callbacks started.
func Settle(t *testing.T, srv *Server, client *coord.Client) {
	t.Helper()
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		if srv.Delivered() == client.Dispatched() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("notifications not drained: delivered=%d dispatched=%d", srv.Delivered(), client.Dispatched())
}
