package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kshah22/codeclash/go/internal/auth"
	"github.com/kshah22/codeclash/go/internal/models"
)

type fakeLeaderboards struct {
	live   *models.StandingsTable
	frozen *models.StandingsTable
}

func (f *fakeLeaderboards) Snapshot(ctx context.Context, contestID uuid.UUID, isAdmin bool) (*models.StandingsTable, bool) {
	if !isAdmin && f.frozen != nil {
		return f.frozen, true
	}
	if f.live != nil {
		return f.live, true
	}
	return nil, false
}

func (f *fakeLeaderboards) Recompute(ctx context.Context, contestID uuid.UUID, isAdmin bool) (*models.StandingsTable, error) {
	if table, ok := f.Snapshot(ctx, contestID, isAdmin); ok {
		return table, nil
	}
	return nil, fmt.Errorf("no standings for contest %s", contestID)
}

type gatewayFixture struct {
	cm     *ConnectionManager
	authn  *auth.Auth
	boards *fakeLeaderboards
	wsURL  string
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	authn := auth.New([]byte("gateway-test-secret"))
	boards := &fakeLeaderboards{}
	cm := NewConnectionManager(DefaultConnectionConfig(), authn, boards)

	ctx, cancel := context.WithCancel(context.Background())
	go cm.Start(ctx)

	handler := NewWebSocketHandler(cm, authn)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleContestConnection)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	return &gatewayFixture{
		cm:     cm,
		authn:  authn,
		boards: boards,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (fx *gatewayFixture) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := fx.authn.GenerateToken(uuid.New(), role, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func (fx *gatewayFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := fx.wsURL
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) ContestEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event ContestEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return event
}

func expectEvent(t *testing.T, conn *websocket.Conn, want EventType) ContestEvent {
	t.Helper()
	event := readEvent(t, conn)
	if event.Type != want {
		t.Fatalf("got event %s (%s), want %s", event.Type, event.Data, want)
	}
	return event
}

// expectSilence asserts no frame arrives within the window. The timeout
// poisons the connection for further reads, so call it last.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no event, got %s", raw)
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("send %s: %v", msg.Type, err)
	}
}

func testEvent(contestID uuid.UUID) *ContestEvent {
	return newAckEvent(EventTypeContestStarted, contestID.String(), LifecycleData{
		ContestID: contestID.String(),
		Timestamp: time.Now(),
	})
}

func TestConnectAuthenticateAndJoin(t *testing.T) {
	fx := newGatewayFixture(t)
	contestID := uuid.New()

	conn := fx.dial(t, "")
	expectEvent(t, conn, EventTypeConnected)

	send(t, conn, ClientMessage{Type: ClientMsgAuthenticateTeam, Token: fx.token(t, auth.RoleTeam)})
	event := expectEvent(t, conn, EventTypeAuthenticated)
	var ack AuthenticatedData
	if err := json.Unmarshal(event.Data, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Role != auth.RoleTeam {
		t.Errorf("authenticated role = %s, want %s", ack.Role, auth.RoleTeam)
	}

	send(t, conn, ClientMessage{Type: ClientMsgJoinContest, ContestID: contestID.String()})
	expectEvent(t, conn, EventTypeJoined)
}

func TestJoinRequiresAuthentication(t *testing.T) {
	fx := newGatewayFixture(t)

	conn := fx.dial(t, "")
	expectEvent(t, conn, EventTypeConnected)

	send(t, conn, ClientMessage{Type: ClientMsgJoinContest, ContestID: uuid.New().String()})
	event := expectEvent(t, conn, EventTypeError)
	var data ErrorData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if !strings.Contains(data.Message, "authentication required") {
		t.Errorf("error message = %q, want authentication requirement", data.Message)
	}
}

func TestReauthenticationRejected(t *testing.T) {
	fx := newGatewayFixture(t)

	conn := fx.dial(t, "token="+fx.token(t, auth.RoleTeam))
	expectEvent(t, conn, EventTypeConnected)

	send(t, conn, ClientMessage{Type: ClientMsgAuthenticateTeam, Token: fx.token(t, auth.RoleTeam)})
	expectEvent(t, conn, EventTypeError)
}

func TestAuthenticateRejectsWrongRoleToken(t *testing.T) {
	fx := newGatewayFixture(t)

	conn := fx.dial(t, "")
	expectEvent(t, conn, EventTypeConnected)

	send(t, conn, ClientMessage{Type: ClientMsgAuthenticateAdmin, Token: fx.token(t, auth.RoleTeam)})
	event := expectEvent(t, conn, EventTypeError)
	var data ErrorData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		t.Fatalf("unmarshal error data: %v", err)
	}
	if !strings.Contains(data.Message, "role") {
		t.Errorf("error message = %q, want role mismatch", data.Message)
	}
}

func TestBroadcastReachesOnlyRoomMembers(t *testing.T) {
	fx := newGatewayFixture(t)
	contestA := uuid.New()
	contestB := uuid.New()

	joinedConn := func(contestID uuid.UUID) *websocket.Conn {
		conn := fx.dial(t, "token="+fx.token(t, auth.RoleTeam)+"&contest_id="+contestID.String())
		expectEvent(t, conn, EventTypeConnected)
		expectEvent(t, conn, EventTypeJoined)
		return conn
	}

	memberOne := joinedConn(contestA)
	memberTwo := joinedConn(contestA)
	outsider := joinedConn(contestB)

	fx.cm.BroadcastToContest(contestA, testEvent(contestA))

	expectEvent(t, memberOne, EventTypeContestStarted)
	expectEvent(t, memberTwo, EventTypeContestStarted)
	expectSilence(t, outsider)
}

func TestLeaveStopsDelivery(t *testing.T) {
	fx := newGatewayFixture(t)
	contestID := uuid.New()

	conn := fx.dial(t, "token="+fx.token(t, auth.RoleTeam)+"&contest_id="+contestID.String())
	expectEvent(t, conn, EventTypeConnected)
	expectEvent(t, conn, EventTypeJoined)

	send(t, conn, ClientMessage{Type: ClientMsgLeaveContest, ContestID: contestID.String()})
	expectEvent(t, conn, EventTypeLeft)

	fx.cm.BroadcastToContest(contestID, testEvent(contestID))
	expectSilence(t, conn)
}

func TestFrozenLeaderboardGoesToAdminsOnly(t *testing.T) {
	fx := newGatewayFixture(t)
	contestID := uuid.New()

	adminConn := fx.dial(t, "token="+fx.token(t, auth.RoleAdmin)+"&contest_id="+contestID.String())
	expectEvent(t, adminConn, EventTypeConnected)
	expectEvent(t, adminConn, EventTypeJoined)

	teamConn := fx.dial(t, "token="+fx.token(t, auth.RoleTeam)+"&contest_id="+contestID.String())
	expectEvent(t, teamConn, EventTypeConnected)
	expectEvent(t, teamConn, EventTypeJoined)

	frozen := newAckEvent(EventTypeLeaderboardUpdate, contestID.String(), LeaderboardUpdateData{
		ContestID: contestID.String(),
		IsFrozen:  true,
	})
	fx.cm.BroadcastToAdmins(contestID, frozen)

	// The reveal goes to everyone.
	reveal := newAckEvent(EventTypeLeaderboardUpdate, contestID.String(), LeaderboardUpdateData{
		ContestID: contestID.String(),
	})
	fx.cm.BroadcastToContest(contestID, reveal)

	// The admin sees both tables in order. The team's first frame must be
	// the reveal, proving the frozen table skipped non-admin connections.
	first := expectEvent(t, adminConn, EventTypeLeaderboardUpdate)
	var adminView LeaderboardUpdateData
	if err := json.Unmarshal(first.Data, &adminView); err != nil {
		t.Fatalf("unmarshal admin frame: %v", err)
	}
	if !adminView.IsFrozen {
		t.Error("admin's first frame should be the frozen table")
	}
	expectEvent(t, adminConn, EventTypeLeaderboardUpdate)

	teamFrame := expectEvent(t, teamConn, EventTypeLeaderboardUpdate)
	var teamView LeaderboardUpdateData
	if err := json.Unmarshal(teamFrame.Data, &teamView); err != nil {
		t.Fatalf("unmarshal team frame: %v", err)
	}
	if teamView.IsFrozen {
		t.Error("team received the admin-only frozen table")
	}
}

func TestRequestLeaderboardHonorsRole(t *testing.T) {
	fx := newGatewayFixture(t)
	contestID := uuid.New()

	fx.boards.live = &models.StandingsTable{
		ContestID: contestID,
		Rows:      []models.StandingsRow{{Rank: 1, TeamName: "late-surge", TotalPoints: 300}},
	}
	fx.boards.frozen = &models.StandingsTable{
		ContestID: contestID,
		IsFrozen:  true,
		Rows:      []models.StandingsRow{{Rank: 1, TeamName: "pre-freeze-leader", TotalPoints: 200}},
	}

	request := ClientMessage{Type: ClientMsgRequestLeaderboard, ContestID: contestID.String()}

	teamConn := fx.dial(t, "token="+fx.token(t, auth.RoleTeam))
	expectEvent(t, teamConn, EventTypeConnected)
	send(t, teamConn, request)
	event := expectEvent(t, teamConn, EventTypeLeaderboardUpdate)
	var teamView LeaderboardUpdateData
	if err := json.Unmarshal(event.Data, &teamView); err != nil {
		t.Fatalf("unmarshal leaderboard: %v", err)
	}
	if !teamView.IsFrozen || len(teamView.Teams) != 1 || teamView.Teams[0].TeamName != "pre-freeze-leader" {
		t.Errorf("team got %+v, want the frozen table", teamView)
	}

	adminConn := fx.dial(t, "token="+fx.token(t, auth.RoleAdmin))
	expectEvent(t, adminConn, EventTypeConnected)
	send(t, adminConn, request)
	event = expectEvent(t, adminConn, EventTypeLeaderboardUpdate)
	var adminView LeaderboardUpdateData
	if err := json.Unmarshal(event.Data, &adminView); err != nil {
		t.Fatalf("unmarshal leaderboard: %v", err)
	}
	if adminView.IsFrozen || len(adminView.Teams) != 1 || adminView.Teams[0].TeamName != "late-surge" {
		t.Errorf("admin got %+v, want the live table", adminView)
	}
}

func TestDisconnectRemovesFromRooms(t *testing.T) {
	fx := newGatewayFixture(t)
	contestID := uuid.New()

	conn := fx.dial(t, "token="+fx.token(t, auth.RoleTeam)+"&contest_id="+contestID.String())
	expectEvent(t, conn, EventTypeConnected)
	expectEvent(t, conn, EventTypeJoined)

	conn.Close()

	// Wait for the read pump to notice the close.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := fx.cm.GetConnectionStats()
		if stats["total_connections"].(int) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("connection still registered after close")
}
