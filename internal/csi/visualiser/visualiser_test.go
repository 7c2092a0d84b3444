package visualiser

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/hkevin01/wifi-radar/internal/csi"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

func startPublisher(t *testing.T, cfg Config) (*Publisher, *Client) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	pub := NewPublisher(cfg)
	require.NoError(t, pub.Serve(lis))

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		pub.Stop()
	})
	return pub, NewClient(conn)
}

func waitForClients(t *testing.T, pub *Publisher, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return pub.Stats().Clients == n }, 2*time.Second, 5*time.Millisecond)
}

func TestPublisher_StreamsUpdates(t *testing.T) {
	pub, client := startPublisher(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.StreamPoses(ctx)
	require.NoError(t, err)
	waitForClients(t, pub, 1)

	pose := csi.PoseEstimate{
		TrackID:    3,
		Timestamp:  t0,
		Keypoints:  []csi.Keypoint{{X: 0.5, Y: 0.25, Z: 1.5}, {X: -1, Y: 0, Z: 0}},
		Confidence: []float64{0.9, 0.1},
	}
	pub.OnTrackLifecycle(3, csi.Confirmed, t0)
	pub.OnPoseUpdate(t0, []csi.PoseEstimate{pose})
	pub.OnPoseUpdate(t0.Add(time.Second), nil)

	u, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, kindLifecycle, u.Kind)
	assert.Equal(t, csi.TrackEvent{TrackID: 3, Event: csi.Confirmed, Timestamp: t0}, u.Event)

	u, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, kindPoses, u.Kind)
	if diff := cmp.Diff([]csi.PoseEstimate{pose}, u.Poses); diff != "" {
		t.Errorf("poses mismatch (-want +got):\n%s", diff)
	}

	u, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, kindPoses, u.Kind)
	assert.Empty(t, u.Poses)
	assert.True(t, u.Timestamp.Equal(t0.Add(time.Second)))

	last, err := client.LastUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(t0.Add(time.Second)))

	cancel()
	waitForClients(t, pub, 0)
	assert.Equal(t, uint64(3), pub.Stats().Published)
}

func TestPublisher_LastUpdateBeforeAnyPose(t *testing.T) {
	_, client := startPublisher(t, DefaultConfig())
	_, err := client.LastUpdate(context.Background())
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestPublisher_Skeleton(t *testing.T) {
	_, client := startPublisher(t, DefaultConfig())
	names, edges, err := client.Skeleton(context.Background())
	require.NoError(t, err)
	assert.Equal(t, csi.KeypointNames[:], names)
	assert.Equal(t, csi.SkeletonEdges, edges)
}

func TestPublisher_MaxClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	pub, client := startPublisher(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.StreamPoses(ctx)
	require.NoError(t, err)
	waitForClients(t, pub, 1)

	second, err := client.StreamPoses(ctx)
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPublisher_SlowClientDropsWithoutBlocking(t *testing.T) {
	pub := NewPublisher(Config{ClientBuffer: 2})
	slow, err := pub.addClient()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pub.OnPoseUpdate(t0.Add(time.Duration(i)*time.Millisecond), nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a client that never reads")
	}

	assert.Len(t, slow.ch, 2)
	assert.Equal(t, uint64(8), slow.dropped.Load())
	assert.Equal(t, PublisherStats{Published: 10, Dropped: 8, Clients: 1}, pub.Stats())

	pub.removeClient(slow)
	assert.Zero(t, pub.Stats().Clients)
}

func TestDecodeUpdate_Rejects(t *testing.T) {
	msg, err := lifecycleMessage(1, csi.LifecycleEvent(9), t0)
	require.NoError(t, err)
	_, err = DecodeUpdate(msg)
	assert.Error(t, err)

	msg, err = posesMessage(t0, nil)
	require.NoError(t, err)
	msg.Fields["type"] = msg.Fields["poses"]
	_, err = DecodeUpdate(msg)
	assert.Error(t, err)
}
