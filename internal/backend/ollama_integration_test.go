//go:build integration

package backend_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ollamagate/gateway/internal/backend"
)

// startOllama runs a real Ollama server with no models pulled.
func startOllama(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "ollama/ollama:0.3.14",
			ExposedPorts: []string{"11434/tcp"},
			WaitingFor:   wait.ForHTTP("/api/tags").WithPort("11434/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "11434")
	require.NoError(t, err)
	return "http://" + host + ":" + port.Port()
}

func TestOllamaIntegration_HealthAndMissingModel(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	client := backend.NewOllamaClient(startOllama(t), "not-pulled:latest", backend.WithTimeout(10*time.Second))

	health, err := client.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, health.ModelAvailable)

	_, err = client.Generate(context.Background(), "Hello")
	require.Error(t, err)
	assert.True(t, backend.IsKind(err, backend.FailureProtocol), "missing model is a protocol failure: %v", err)
}
