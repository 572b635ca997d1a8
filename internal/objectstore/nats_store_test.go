// Package objectstore_test tests the NATS artifact store.
package objectstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/material-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts an in-memory NATS server with JetStream.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		natsServer.Shutdown()
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func newTestStore(t *testing.T, bucket string) (*objectstore.ArtifactStore, nats.JetStreamContext) {
	t.Helper()

	natsServer, natsConnection := StartTestServer(t)
	t.Cleanup(natsServer.Shutdown)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, bucket)
	require.NoError(t, err)

	return store, jetstreamContext
}

func TestArtifactStore_UploadDownload(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "test-bucket")
	ctx := context.Background()

	uploadData := []byte("RIFF fake wav payload")

	require.NoError(t, store.Upload(ctx, "speech/abc.wav", uploadData))

	downloadData, err := store.Download(ctx, "speech/abc.wav")
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)
}

func TestArtifactStore_UploadFileAndDelete(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "files-bucket")
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "speech.srt")
	require.NoError(t, os.WriteFile(path, []byte("1\n00:00:00,000 --> 00:00:01,000\nhi\n"), 0o600))

	require.NoError(t, store.UploadFile(ctx, "speech/abc.srt", path))

	data, err := store.Download(ctx, "speech/abc.srt")
	require.NoError(t, err)
	assert.Contains(t, string(data), "hi")

	require.NoError(t, store.Delete(ctx, "speech/abc.srt"))

	_, err = store.Download(ctx, "speech/abc.srt")
	require.Error(t, err)
}

func TestArtifactStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	first, jetstreamContext := newTestStore(t, "shared-bucket")
	require.NoError(t, first.Upload(context.Background(), "key", []byte("value")))

	second, err := objectstore.New(jetstreamContext, "shared-bucket")
	require.NoError(t, err)
	assert.Equal(t, "shared-bucket", second.Bucket())

	data, err := second.Download(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), data)
}

func TestArtifactStore_EmptyKey(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t, "empty-key-bucket")
	ctx := context.Background()

	require.ErrorIs(t, store.Upload(ctx, "", nil), objectstore.ErrEmptyKey)
	require.ErrorIs(t, store.UploadFile(ctx, "", "x"), objectstore.ErrEmptyKey)
	require.ErrorIs(t, store.Delete(ctx, ""), objectstore.ErrEmptyKey)

	_, err := store.Download(ctx, "")
	require.ErrorIs(t, err, objectstore.ErrEmptyKey)
}
