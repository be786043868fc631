//go:build integration

package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupMinIO creates a MinIO testcontainer and returns an S3Client configured to use it
func setupMinIO(t *testing.T) *S3Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	minioContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Failed to start MinIO container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := minioContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate MinIO container: %v", err)
		}
	})

	host, err := minioContainer.Host(ctx)
	require.NoError(t, err)
	port, err := minioContainer.MappedPort(ctx, "9000")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.S3Endpoint = "http://" + host + ":" + port.Port()
	cfg.S3AccessKey = "minioadmin"
	cfg.S3SecretKey = "minioadmin"
	cfg.S3Bucket = "flowgate-reports"
	cfg.S3UsePathStyle = true
	cfg.S3CreateBucket = true

	client, err := NewS3Client(ctx, cfg)
	require.NoError(t, err, "Failed to create S3 client")
	return client
}

func TestS3Client_RoundTrip_Integration(t *testing.T) {
	client := setupMinIO(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		content string
	}{
		{name: "report", key: "reports/org-1/2026-10.json", content: `{"tenant_id":"org-1"}`},
		{name: "empty", key: "reports/org-2/2026-10.json", content: ""},
		{name: "large", key: "reports/org-3/2026-10.json", content: strings.Repeat("a", 1024*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, client.PutObject(ctx, tt.key, []byte(tt.content), "application/json"))

			data, err := client.GetObject(ctx, tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.content, string(data))
		})
	}

	_, err := client.GetObject(ctx, "reports/missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	assert.NoError(t, client.Ping(pingCtx))
}
