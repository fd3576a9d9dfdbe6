package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
)

func createRoom(t *testing.T, c *client, name string, members ...string) store.ChatRoom {
	t.Helper()

	resp := c.do(http.MethodPost, "/api/v1/rooms", map[string]any{
		"name": name, "members": members,
	})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	var room store.ChatRoom
	resp.decode(t, &room)

	return room
}

func TestMemberIDs(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, memberIDs("a", " b ", "", "a", "c", "b"))
	assert.Empty(t, memberIDs())
}

func TestRoomDeleteRequiresOwner(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceP := env.signup(t, "alice", "p@ss1")
	bob, _ := env.signup(t, "bob", "p@ss1")
	admin, _ := env.loginAdmin(t)

	room := createRoom(t, alice, "general")
	assert.Equal(t, aliceP.ID, room.OwnerID)

	path := fmt.Sprintf("/api/v1/rooms/%d", room.ID)

	resp := alice.do(http.MethodPost, path+"/messages", map[string]string{"body": "keep me"})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)

	before, err := env.srv.store.ListMessages(context.Background(), room.ID, defaultMessageLimit)
	require.NoError(t, err)
	require.Len(t, before, 1)

	resp = bob.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, string(auth.KindForbidden), resp.errorBody(t).Kind)

	resp = admin.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusForbidden, resp.status, "admin role does not bypass ownership")

	_, err = env.srv.store.GetRoom(context.Background(), room.ID)
	require.NoError(t, err, "room must survive rejected deletes")

	after, err := env.srv.store.ListMessages(context.Background(), room.ID, defaultMessageLimit)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	resp = alice.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusOK, resp.status)

	resp = alice.do(http.MethodDelete, path, nil)
	require.Equal(t, http.StatusNotFound, resp.status)
}

func TestRoomMessageRefusedWithoutIdentityRow(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.signup(t, "alice", "p@ss1")
	bob, bobP := env.signup(t, "bob", "p@ss1")

	room := createRoom(t, alice, "private")

	exists, err := env.srv.store.IdentityExists(context.Background(), bobP.ID)
	require.NoError(t, err)
	require.False(t, exists)

	resp := bob.do(http.MethodPost, fmt.Sprintf("/api/v1/rooms/%d/messages", room.ID),
		map[string]string{"body": "let me in"})
	require.Equal(t, http.StatusForbidden, resp.status)
	assert.Equal(t, string(auth.KindForbidden), resp.errorBody(t).Kind)

	exists, err = env.srv.store.IdentityExists(context.Background(), bobP.ID)
	require.NoError(t, err)
	assert.False(t, exists, "refused writes leave no identity row")
}

func TestRoomCreateCompensatesFailedMembers(t *testing.T) {
	env := newTestEnv(t)
	alice, aliceP := env.signup(t, "alice", "p@ss1")

	resp := alice.do(http.MethodPost, "/api/v1/rooms", map[string]any{
		"name": "ghosts", "members": []string{"nobody"},
	})
	require.Equal(t, http.StatusBadRequest, resp.status, "body: %s", resp.body)
	assert.Equal(t, string(auth.KindValidation), resp.errorBody(t).Kind)

	rooms, err := env.srv.store.ListRooms(context.Background(), aliceP.ID)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRoomMessaging(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.signup(t, "alice", "p@ss1")
	bob, bobP := env.signup(t, "bob", "p@ss1")
	carol, _ := env.signup(t, "carol", "p@ss1")

	// Bob needs an identity row before he can be added as a member.
	bobRoom := createRoom(t, bob, "bob-only")

	room := createRoom(t, alice, "project-x", bobP.ID)
	base := fmt.Sprintf("/api/v1/rooms/%d", room.ID)

	t.Run("members see the room", func(t *testing.T) {
		var rooms []store.ChatRoom
		resp := bob.do(http.MethodGet, "/api/v1/rooms", nil)
		require.Equal(t, http.StatusOK, resp.status)
		resp.decode(t, &rooms)

		ids := []uint{}
		for _, r := range rooms {
			ids = append(ids, r.ID)
		}

		assert.ElementsMatch(t, []uint{bobRoom.ID, room.ID}, ids)
	})

	t.Run("owner and member are listed", func(t *testing.T) {
		var members []store.ChatMember
		resp := alice.do(http.MethodGet, base+"/members", nil)
		require.Equal(t, http.StatusOK, resp.status)
		resp.decode(t, &members)
		assert.Len(t, members, 2)
	})

	t.Run("outsiders cannot read or post", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, carol.do(http.MethodGet, base+"/messages", nil).status)
		assert.Equal(t, http.StatusForbidden,
			carol.do(http.MethodPost, base+"/messages", map[string]string{"body": "hi"}).status)
	})

	t.Run("only the owner adds members", func(t *testing.T) {
		resp := bob.do(http.MethodPost, base+"/members", map[string]any{"members": []string{"x"}})
		assert.Equal(t, http.StatusForbidden, resp.status)
	})

	for _, msg := range []struct {
		c    *client
		body string
	}{{alice, "first"}, {bob, "second"}, {alice, "third"}} {
		resp := msg.c.do(http.MethodPost, base+"/messages", map[string]string{"body": msg.body})
		require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)
	}

	t.Run("messages come back oldest first", func(t *testing.T) {
		var msgs []store.ChatMessage
		resp := bob.do(http.MethodGet, base+"/messages?limit=2", nil)
		require.Equal(t, http.StatusOK, resp.status)
		resp.decode(t, &msgs)

		require.Len(t, msgs, 2)
		assert.Equal(t, "second", msgs[0].Body)
		assert.Equal(t, "third", msgs[1].Body)
	})

	t.Run("invalid limit", func(t *testing.T) {
		resp := bob.do(http.MethodGet, base+"/messages?limit=zero", nil)
		assert.Equal(t, http.StatusBadRequest, resp.status)
	})
}
