package ws

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, env *testEnv, sessionID, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/sessions/" + sessionID + "/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", wsURL, err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readStreamEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return ev
}

func (e *testEnv) postBuildStatus(t *testing.T, id, status string) {
	t.Helper()
	resp, _ := e.request(t, http.MethodPost, "/api/sessions/"+id+"/build-status", buildStatusRequest{Status: status})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("build-status: %d", resp.StatusCode)
	}
}

func TestStreamReplayThenLive(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	// One event in the log before the client connects.
	env.postBuildStatus(t, id, "passed")

	conn := dialStream(t, env, id, "?since=0")

	ev := readStreamEvent(t, conn)
	if ev["type"] != "build_status" || ev["offset"].(float64) != 0 {
		t.Fatalf("replayed event %v", ev)
	}
	if _, ok := ev["timestamp"]; !ok {
		t.Fatalf("event missing timestamp: %v", ev)
	}

	// A later append arrives live on the same connection.
	env.postBuildStatus(t, id, "failed")

	ev = readStreamEvent(t, conn)
	if ev["offset"].(float64) != 1 {
		t.Fatalf("live event %v", ev)
	}
	payload, ok := ev["data"].(map[string]any)
	if !ok || payload["status"] != "failed" {
		t.Fatalf("live payload %v", ev["data"])
	}
}

func TestStreamLiveOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	conn := dialStream(t, env, id, "")

	env.postBuildStatus(t, id, "passed")

	ev := readStreamEvent(t, conn)
	if ev["type"] != "build_status" || ev["offset"].(float64) != 0 {
		t.Fatalf("event %v", ev)
	}
}

func TestStreamSessionEndClosesConnection(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	conn := dialStream(t, env, id, "")

	resp, _ := env.request(t, http.MethodDelete, "/api/sessions/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}

	// The terminal event is flushed before the server closes.
	ev := readStreamEvent(t, conn)
	if ev["type"] != "session_ended" {
		t.Fatalf("event %v", ev)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read after end: %v, want normal closure", err)
	}
}

func TestStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/sessions/ses-missing/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		conn.Close()
		t.Fatal("dial succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response %v, want 404", resp)
	}
}

func TestStreamBadSince(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	for _, since := range []string{"-1", "abc"} {
		resp, body := env.request(t, http.MethodGet, "/api/sessions/"+id+"/stream?since="+since, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("since=%s: status %d", since, resp.StatusCode)
		}
		assertErrorCode(t, body, codeMalformedEvent)
	}
}

// Non-websocket clients get the same feed as Server-Sent Events.
func TestStreamSSE(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createSession(t)

	env.postBuildStatus(t, id, "passed")

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/sessions/"+id+"/stream?since=0", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	// Read one full frame: id, event, data, blank line.
	scanner := bufio.NewScanner(resp.Body)
	var frame []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		frame = append(frame, line)
	}
	if len(frame) != 3 {
		t.Fatalf("frame %v", frame)
	}
	if frame[0] != "id: 0" {
		t.Errorf("id line %q", frame[0])
	}
	if frame[1] != "event: build_status" {
		t.Errorf("event line %q", frame[1])
	}
	if !strings.HasPrefix(frame[2], "data: ") {
		t.Fatalf("data line %q", frame[2])
	}

	var ev map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frame[2], "data: ")), &ev); err != nil {
		t.Fatal(err)
	}
	if ev["type"] != "build_status" || ev["offset"].(float64) != 0 {
		t.Fatalf("event %v", ev)
	}
}
