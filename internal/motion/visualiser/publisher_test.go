package visualiser

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/motiontrail/internal/motion/pipeline"
)

func startBufconn(t *testing.T, cfg Config) (*Publisher, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	pub := NewPublisher(cfg)
	require.NoError(t, pub.Serve(lis))
	t.Cleanup(pub.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return pub, conn
}

func testOutput(tick uint64, w, h int) *pipeline.Output {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 200, A: 255})
		}
	}
	return &pipeline.Output{Tick: tick, Image: img}
}

func TestPublisher_StreamFrames(t *testing.T) {
	pub, conn := startBufconn(t, DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)

	pub.Publish(testOutput(1, 8, 6))

	msg, err := stream.Recv()
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(msg.GetValue()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())

	require.Eventually(t, func() bool { return pub.Latest() != nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), pub.Latest().Tick)

	st := pub.Stats()
	assert.Equal(t, uint64(1), st.FrameCount)
	assert.Equal(t, uint64(1), st.EncodedCount)
	assert.True(t, st.Running)
}

func TestPublisher_GetStatus(t *testing.T) {
	pub, conn := startBufconn(t, DefaultConfig())
	pub.Publish(testOutput(7, 2, 2))
	require.Eventually(t, func() bool { return pub.Latest() != nil }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := FetchStatus(ctx, conn)
	require.NoError(t, err)
	fields := st.AsMap()
	assert.Equal(t, true, fields["running"])
	assert.Equal(t, float64(1), fields["frame_count"])
	assert.Equal(t, float64(7), fields["latest_tick"])
}

func TestPublisher_MaxClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	pub, conn := startBufconn(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	_, err = second.Recv()
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPublisher_ClientDisconnect(t *testing.T) {
	pub, conn := startBufconn(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := Subscribe(ctx, conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPublisher_NotRunning(t *testing.T) {
	pub := NewPublisher(Config{})
	pub.Publish(testOutput(1, 2, 2))
	pub.Observe(nil)
	assert.Zero(t, pub.Stats().FrameCount)
	assert.Nil(t, pub.GRPCServer())
	pub.Stop()
}

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	pub := NewPublisher(Config{QueueSize: 1})
	// Running without the broadcast loop so nothing drains the queue.
	pub.running.Store(true)

	pub.Publish(testOutput(1, 2, 2))
	pub.Publish(testOutput(2, 2, 2))
	pub.Publish(testOutput(3, 2, 2))

	st := pub.Stats()
	assert.Equal(t, uint64(1), st.FrameCount)
	assert.Equal(t, uint64(2), st.DroppedFrames)
}

func TestPublisher_DoubleStart(t *testing.T) {
	pub, _ := startBufconn(t, DefaultConfig())
	assert.Error(t, pub.Serve(bufconn.Listen(1024)))
}
