package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/sessionstate"
	"github.com/aretw0/sessionstate/pkg/adapters/memory"
	"github.com/aretw0/sessionstate/pkg/domain"
	"github.com/aretw0/sessionstate/pkg/versioning"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, version string, store *memory.Store) (*Server, *sessionstate.Provider) {
	t.Helper()
	p, err := sessionstate.New(store,
		sessionstate.WithVersionSource(versioning.Fixed(version)),
		sessionstate.WithoutExpiry(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return NewServer(p), p
}

func seed(t *testing.T, p *sessionstate.Provider, id string) {
	t.Helper()
	rec := p.CreateNewStoreData(time.Minute)
	rec.Items.Set("cart", "apple")
	require.NoError(t, p.SetAndReleaseItemExclusive(context.Background(), id, rec, "", true))
}

func args(id string) map[string]interface{} {
	return map[string]interface{}{"id": id}
}

func TestGetSession(t *testing.T) {
	s, p := newTestServer(t, "V1", memory.NewStore())
	seed(t, p, "abc")

	summary, err := s.handleGetSession(context.Background(), mcp.CallToolRequest{}, args("abc"))
	require.NoError(t, err)
	assert.Equal(t, "V1", summary.Version)
	assert.Equal(t, []string{"cart"}, summary.Keys)
	assert.Equal(t, "apple", summary.Items["cart"])
}

func TestGetSession_OtherReleaseIsCleared(t *testing.T) {
	store := memory.NewStore()
	_, v1 := newTestServer(t, "V1", store)
	seed(t, v1, "abc")

	s, _ := newTestServer(t, "V2", store)
	summary, err := s.handleGetSession(context.Background(), mcp.CallToolRequest{}, args("abc"))
	require.NoError(t, err)
	assert.Empty(t, summary.Keys)
}

func TestGetSession_Errors(t *testing.T) {
	s, _ := newTestServer(t, "V1", memory.NewStore())

	_, err := s.handleGetSession(context.Background(), mcp.CallToolRequest{}, args("missing"))
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = s.handleGetSession(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{})
	assert.Error(t, err)
}

func TestTTLAndTouch(t *testing.T) {
	s, p := newTestServer(t, "V1", memory.NewStore())
	seed(t, p, "abc")

	ttl, err := s.handleTTL(context.Background(), mcp.CallToolRequest{}, args("abc"))
	require.NoError(t, err)
	assert.True(t, ttl.Exists)

	touched, err := s.handleTouch(context.Background(), mcp.CallToolRequest{}, args("abc"))
	require.NoError(t, err)
	assert.True(t, touched.Exists)

	missing, err := s.handleTTL(context.Background(), mcp.CallToolRequest{}, args("missing"))
	require.NoError(t, err)
	assert.False(t, missing.Exists)
	assert.Equal(t, "0s", missing.Remaining)
}

func TestRemove(t *testing.T) {
	store := memory.NewStore()
	s, p := newTestServer(t, "V1", store)
	seed(t, p, "abc")
	seed(t, p, "held")
	held, err := store.GetItemExclusive(context.Background(), "held")
	require.NoError(t, err)

	res, err := s.handleRemove(context.Background(), mcp.CallToolRequest{}, args("abc"))
	require.NoError(t, err)
	assert.True(t, res.Removed)

	res, err = s.handleRemove(context.Background(), mcp.CallToolRequest{}, args("abc"))
	require.NoError(t, err)
	assert.False(t, res.Removed)

	_, err = s.handleRemove(context.Background(), mcp.CallToolRequest{}, args("held"))
	assert.ErrorIs(t, err, domain.ErrLockNotHeld)
	require.NoError(t, store.ReleaseItemExclusive(context.Background(), "held", held.LockID))
}

func TestVersionInfo(t *testing.T) {
	s, _ := newTestServer(t, "V7", memory.NewStore())

	data, err := json.Marshal(s.versionInfo())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_version":"V7"`)
}
