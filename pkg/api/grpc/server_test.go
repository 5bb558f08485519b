package grpc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type toggleChecker struct {
	healthy atomic.Bool
}

func (c *toggleChecker) IsHealthy() bool { return c.healthy.Load() }

func TestHealthService(t *testing.T) {
	checker := &toggleChecker{}
	checker.healthy.Store(true)

	s, err := NewServer(&Config{Port: 0, Checker: checker, CheckInterval: 10 * time.Millisecond, Logger: zap.NewNop()})
	require.NoError(t, err)
	go func() { _ = s.Start() }()
	defer func() { _ = s.Shutdown(context.Background()) }()

	conn, err := grpc.Dial(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	checker.healthy.Store(false)
	assert.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 10*time.Millisecond)
}
