package uilaunch

import (
	"context"
	"errors"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliverAnme/bindiff/pkg/outwriter"
)

func TestLaunchReturnsErrorWhenBinaryMissing(t *testing.T) {
	orig := lookPathFunc
	defer func() { lookPathFunc = orig }()
	lookPathFunc = func(string) (string, error) { return "", errors.New("not found") }

	err := Launch(context.Background(), Config{Binary: "visualizer"}, "ws://localhost/ws", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in PATH")
}

func TestLaunchPassesWebsocketURLAsFinalArgument(t *testing.T) {
	origLook, origCmd := lookPathFunc, execCmdFunc
	defer func() { lookPathFunc, execCmdFunc = origLook, origCmd }()

	lookPathFunc = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	var gotArgs []string
	execCmdFunc = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		gotArgs = args
		return exec.CommandContext(ctx, "true")
	}

	cfg := Config{Binary: "visualizer", Args: []string{"--fullscreen"}}
	require.NoError(t, Launch(context.Background(), cfg, "ws://localhost:9000/ws", nil, nil))
	require.Len(t, gotArgs, 2)
	assert.Equal(t, "--fullscreen", gotArgs[0])
	assert.Equal(t, "ws://localhost:9000/ws", gotArgs[1])
}

func TestHubBroadcastsToConnectedClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "dialing websocket server")
	defer conn.Close()

	// Give the server a moment to register the client before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("server never registered the client")
		}
		time.Sleep(5 * time.Millisecond)
	}

	report := &outwriter.Report{PrimaryBinary: "a.bin", Similarity: 0.75}
	require.NoError(t, hub.Broadcast(report))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "reading broadcast message")
	assert.Contains(t, string(data), "a.bin")
}

func TestHubUnregistersClientOnDisconnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "dialing websocket server")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("hub never unregistered the disconnected client")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
