package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/flowcomposer/pkg/assist"
	"github.com/tcmartin/flowcomposer/pkg/graph"
	"github.com/tcmartin/flowcomposer/pkg/logging"
)

func testClient(server *httptest.Server, opts ...ClientOption) *Client {
	opts = append([]ClientOption{WithClientLogger(logging.Nop())}, opts...)
	return New(server.URL, opts...)
}

// makeJWT builds an unsigned-but-well-formed JWT with the given expiry
func makeJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]interface{}{"sub": "tester", "exp": exp.Unix()})
	require.NoError(t, err)
	payload := base64.RawURLEncoding.EncodeToString(claims)
	signature := base64.RawURLEncoding.EncodeToString([]byte("sig"))
	return fmt.Sprintf("%s.%s.%s", header, payload, signature)
}

func TestExecuteSubmitsGraph(t *testing.T) {
	var got ExecuteRequest
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/execute", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"execution_id": "exec-42",
			"status":       "running",
		})
	}))
	defer server.Close()

	c := testClient(server, WithToken("secret-token"))

	status, err := c.Execute(context.Background(), ExecuteRequest{
		Nodes: []graph.Node{{ID: "a", Kind: graph.KindAgent}},
		Edges: []graph.Edge{{ID: "e1", Source: "a", Target: "b"}},
		Input: "summarize this",
	})
	require.NoError(t, err)

	assert.Equal(t, "exec-42", status.ExecutionID)
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "summarize this", got.Input)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "a", got.Nodes[0].ID)
}

func TestGetExecution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/executions/exec-42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"execution_id": "exec-42",
			"status":       "completed",
			"result":       "it worked",
		})
	}))
	defer server.Close()

	c := testClient(server)

	status, err := c.GetExecution(context.Background(), "exec-42")
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	assert.True(t, status.Terminal())
	assert.Equal(t, "it worked", status.Result)
}

func TestGetExecutionNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such execution", http.StatusNotFound)
	}))
	defer server.Close()

	c := testClient(server)

	_, err := c.GetExecution(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitInput(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/executions/exec-42/input", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := testClient(server)

	require.NoError(t, c.SubmitInput(context.Background(), "exec-42", "use the second option"))
	assert.Equal(t, "use the second option", got["input"])
}

func TestSuggestEditsWireShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, DefaultSuggestPath, r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "add a summarizer", req["command"])
		assert.NotNil(t, req["nodes"])
		assert.NotNil(t, req["edges"])

		fmt.Fprint(w, `{"actions":[
			{"action":"ADD_NODE","payload":{"id":"sum-1","kind":"agent","data":{"label":"Summarizer"}}},
			{"action":"DELETE_NODE","node_id":"old-1"}
		]}`)
	}))
	defer server.Close()

	c := testClient(server)

	plan, err := c.SuggestEdits(context.Background(), "add a summarizer", graph.Snapshot{
		Nodes: []graph.Node{{ID: "old-1", Kind: graph.KindAgent}},
	})
	require.NoError(t, err)
	require.Len(t, plan.Actions, 2)
	assert.Equal(t, assist.ActionAddNode, plan.Actions[0].Type)
	assert.Equal(t, "sum-1", plan.Actions[0].Node.ID)
	assert.True(t, plan.Destructive())
}

func TestSuggestIdentityHandlesFencedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, DefaultIdentifyPath, r.URL.Path)
		fmt.Fprint(w, "```json\n{\"name\":\"Research Pipeline\",\"description\":\"Fetches and summarizes\",\"category\":\"research\",\"confidence\":0.9}\n```")
	}))
	defer server.Close()

	c := testClient(server)

	identity, err := c.SuggestIdentity(context.Background(), graph.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, "Research Pipeline", identity.Name)
	assert.Equal(t, "research", identity.Category)
	assert.Equal(t, 0.9, identity.Confidence)
}

func TestLoginStoresToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			var creds map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
			if creds["username"] == "alex" && creds["password"] == "hunter2" {
				json.NewEncoder(w).Encode(map[string]string{"token": "fresh-token"})
				return
			}
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
	}))
	defer server.Close()

	c := testClient(server)

	token, err := c.Login(context.Background(), "alex", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, "fresh-token", c.Token())

	_, err = c.Login(context.Background(), "alex", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestExpiredTokenIsRefreshedBeforeUse(t *testing.T) {
	var mu sync.Mutex
	logins := 0
	var executeAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			mu.Lock()
			logins++
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]string{"token": "renewed-token"})
		case "/execute":
			executeAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]interface{}{"execution_id": "exec-1", "status": "running"})
		}
	}))
	defer server.Close()

	expired := makeJWT(t, time.Now().Add(-time.Hour))
	c := testClient(server, WithToken(expired), WithCredentials("alex", "hunter2"))

	_, err := c.Execute(context.Background(), ExecuteRequest{Input: "hi"})
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, 1, logins)
	mu.Unlock()
	assert.Equal(t, "Bearer renewed-token", executeAuth)
}

func TestValidTokenIsNotRefreshed(t *testing.T) {
	var mu sync.Mutex
	logins := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			mu.Lock()
			logins++
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]string{"token": "renewed-token"})
		case "/execute":
			json.NewEncoder(w).Encode(map[string]interface{}{"execution_id": "exec-1", "status": "running"})
		}
	}))
	defer server.Close()

	valid := makeJWT(t, time.Now().Add(time.Hour))
	c := testClient(server, WithToken(valid), WithCredentials("alex", "hunter2"))

	_, err := c.Execute(context.Background(), ExecuteRequest{Input: "hi"})
	require.NoError(t, err)

	mu.Lock()
	assert.Zero(t, logins)
	mu.Unlock()
}

func TestOpaqueTokenNeverCountsAsExpired(t *testing.T) {
	assert.False(t, tokenExpired("plain-api-key"))
	assert.False(t, tokenExpired(""))
}

func TestStreamURL(t *testing.T) {
	c := New("http://localhost:8080", WithClientLogger(logging.Nop()))
	assert.Equal(t, "ws://localhost:8080/ws/execution/exec-1", c.StreamURL("exec-1"))

	secure := New("https://flows.example.com", WithClientLogger(logging.Nop()))
	assert.Equal(t, "wss://flows.example.com/ws/execution/exec-1", secure.StreamURL("exec-1"))
}

func TestStreamAssistantDeliversChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, DefaultAssistantPath, r.URL.Path)
		assert.Equal(t, "plan a workflow", r.URL.Query().Get("prompt"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		for _, chunk := range []string{"Thinking", " about", " it"} {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
			flusher.Flush()
		}
	}))
	defer server.Close()

	c := testClient(server)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var chunks []string
	err := c.StreamAssistant(ctx, "plan a workflow", func(data []byte) {
		mu.Lock()
		defer mu.Unlock()
		chunks = append(chunks, string(data))
		if len(chunks) == 3 {
			cancel()
		}
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Thinking", " about", " it"}, chunks)
}
