package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samhotchkiss/otter-relay/internal/backend"
	"github.com/samhotchkiss/otter-relay/internal/mcp"
)

func newStubServer(t *testing.T, apiKey string) *httptest.Server {
	t.Helper()
	router, err := newRouter(apiKey, backend.StubOptions{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestStubServesProjectsOverHTTP(t *testing.T) {
	srv := newStubServer(t, "stub-key")

	client := backend.NewClient(mcp.NewHTTPClient(srv.URL+"/mcp", "stub-key", 5*time.Second), nil)
	ctx := context.Background()

	created, err := client.CreateProject(ctx, "Demo", "")
	require.NoError(t, err)
	require.NotEmpty(t, created.ProjectID)

	projects, err := client.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, "Demo", projects[0].Name)
}

func TestStubRejectsWrongKey(t *testing.T) {
	srv := newStubServer(t, "stub-key")

	client := backend.NewClient(mcp.NewHTTPClient(srv.URL+"/mcp", "wrong", 5*time.Second), nil)
	_, err := client.ListProjects(context.Background())
	require.Error(t, err)
}

func TestStubHealth(t *testing.T) {
	srv := newStubServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.Contains(string(body), `"ok"`))
}
