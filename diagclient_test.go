package diagclient

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/doipclient/diagclient/errs"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	const body = `{
  "UdpIpAddress": "127.0.0.1",
  "TcpIpAddress": "127.0.0.1",
  "Conversation": [
    {"ConversationName": "front-ecu", "SourceAddress": 3584, "RxBufferSize": 4096}
  ]
}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestClientLifecycle(t *testing.T) {
	path := writeConfig(t)
	client, err := New(path, nil)
	require.NoError(t, err)

	require.NoError(t, client.Initialize(context.Background()))
	defer client.DeInitialize(context.Background())

	h, err := client.GetConversation("front-ecu")
	require.NoError(t, err)
	require.NoError(t, h.Startup(context.Background()))
}

func TestGetConversationBeforeInitializeFails(t *testing.T) {
	path := writeConfig(t)
	client, err := New(path, nil)
	require.NoError(t, err)

	_, err = client.GetConversation("front-ecu")
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindNotInitialized, kind)
}

func TestDoubleInitializeFails(t *testing.T) {
	path := writeConfig(t)
	client, err := New(path, nil)
	require.NoError(t, err)

	require.NoError(t, client.Initialize(context.Background()))
	defer client.DeInitialize(context.Background())

	err = client.Initialize(context.Background())
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	require.Equal(t, errs.KindAlreadyInitialized, kind)
}
