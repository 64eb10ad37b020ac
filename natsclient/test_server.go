package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DefaultTestImage is the nats-server image StartTestServer runs.
const DefaultTestImage = "nats:2.10-alpine"

// TestServer is a disposable nats-server container with a connected Client.
type TestServer struct {
	URL    string
	Client *Client

	container testcontainers.Container
}

// StartTestServer starts image (DefaultTestImage when empty) and connects a
// client to it. Stop releases both.
func StartTestServer(ctx context.Context, image string) (*TestServer, error) {
	if image == "" {
		image = DefaultTestImage
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/healthz").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start nats container: %w", err)
	}

	s := &TestServer{container: container}
	if err := s.connect(ctx); err != nil {
		_ = s.Stop(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *TestServer) connect(ctx context.Context) error {
	endpoint, err := s.container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		return fmt.Errorf("resolve nats endpoint: %w", err)
	}
	s.URL = endpoint

	client, err := NewClient(endpoint, WithTimeout(5*time.Second), WithMaxReconnects(0))
	if err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("connect to test server: %w", err)
	}
	s.Client = client
	return nil
}

// Stop closes the client and terminates the container.
func (s *TestServer) Stop(ctx context.Context) error {
	if s.Client != nil {
		_ = s.Client.Close(ctx)
	}
	return s.container.Terminate(ctx)
}

// NewTestServer starts a server for t and stops it in t.Cleanup.
func NewTestServer(t testing.TB) *TestServer {
	t.Helper()
	s, err := StartTestServer(context.Background(), "")
	if err != nil {
		t.Fatalf("nats test server: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}
