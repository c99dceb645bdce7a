package integration

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permgate/internal/adapter/gateway"
	"permgate/internal/domain"
)

const eventTimeout = 5 * time.Second

func TestE2E_FeedsDriveBroadcasts(t *testing.T) {
	SkipIfShort(t)
	s := NewStack(t, true)
	ctx := NewTestContext(t, 10*time.Second)
	require.NoError(t, s.Coordinator.CheckAll(ctx))

	snap := s.Coordinator.Snapshot()
	require.False(t, snap[domain.PermissionLogin].Pass)
	require.False(t, snap[domain.PermissionNotifications].Pass)
	require.True(t, snap[domain.PermissionPIP].Pass)

	c := s.Dial(t)

	require.NoError(t, s.Grants.Grant("notifications"))
	c.Next(eventTimeout, IsPermissionUpdate(domain.PermissionNotifications, true))

	s.WriteCookies(t, "bili_jct=csrf", "DedeUserID=42")
	c.Next(eventTimeout, IsPermissionUpdate(domain.PermissionLogin, true))
	assert.True(t, s.Coordinator.Snapshot()[domain.PermissionLogin].Pass)

	s.WriteCookies(t)
	c.Next(eventTimeout, IsPermissionUpdate(domain.PermissionLogin, false))
	assert.Equal(t, "You are not logged in", s.Coordinator.Snapshot()[domain.PermissionLogin].Msg)
}

func TestE2E_RemoteFeatureFollowsGrants(t *testing.T) {
	SkipIfShort(t)
	s := NewStack(t, false)
	require.NoError(t, s.Coordinator.CheckAll(NewTestContext(t, 10*time.Second)))

	c := s.Dial(t)
	id := c.Call(gateway.MethodLoadFeature, gateway.LoadFeatureRequest{
		Name:        "notifier",
		Permissions: []domain.PermissionName{domain.PermissionNotifications},
	})
	c.Next(eventTimeout, IsSetPermission(domain.PermissionNotifications, false))

	resp := c.Next(eventTimeout, IsResponse(id))
	require.Empty(t, resp.Error)
	var res domain.EligibilityResult
	require.NoError(t, json.Unmarshal(resp.Payload, &res))
	assert.False(t, res.Pass)
	require.Len(t, res.Data, 1)

	require.NoError(t, s.Grants.Grant("notifications", "downloads"))
	c.Next(eventTimeout, IsSetPermission(domain.PermissionNotifications, true))
	assert.True(t, s.Coordinator.Snapshot()[domain.PermissionDownloads].Pass)
}

func TestE2E_RESTPermissions(t *testing.T) {
	SkipIfShort(t)
	s := NewStack(t, true)
	require.NoError(t, s.Coordinator.CheckAll(NewTestContext(t, 10*time.Second)))

	req, err := http.NewRequest(http.MethodGet, "http://"+s.Gateway.BoundAddr()+"/api/v1/permissions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+Token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body gateway.PermissionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.CheckedAll)
	assert.Len(t, body.Permissions, 4)
	assert.True(t, body.Permissions[domain.PermissionPIP].Pass)
}
