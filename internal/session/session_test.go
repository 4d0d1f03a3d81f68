package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeSenderID(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
		want string
	}{
		{name: "whatsapp prefix", raw: "whatsapp:+15551234567", want: "+15551234567"},
		{name: "sms prefix", raw: "sms:+15551234567", want: "+15551234567"},
		{name: "bare number", raw: " +15551234567 ", want: "+15551234567"},
		{name: "spaces after prefix", raw: "whatsapp: +1", want: "+1"},
		{name: "non channel prefix kept", raw: "+1:555", want: "+1:555"},
		{name: "empty", raw: "", want: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, NormalizeSenderID(tc.raw))
		})
	}
}

func TestNewSessionDefaults(t *testing.T) {
	s := New("+1", testNow)

	require.Equal(t, "+1", s.SenderID)
	require.Equal(t, testNow, s.CreatedAt)
	require.Equal(t, testNow, s.LastActivityAt)
	require.Nil(t, s.ActiveProjectID)
	require.Empty(t, s.History)
	require.NotNil(t, s.History)
	require.Zero(t, s.Context)
	require.Equal(t, "conversation:+1", Key("+1"))
}

func TestAppendTurnKeepsMostRecentTwenty(t *testing.T) {
	s := New("+1", testNow)
	for i := 0; i < 27; i++ {
		s.AppendTurn(fmt.Sprintf("u%d", i), fmt.Sprintf("a%d", i), testNow.Add(time.Duration(i)*time.Second))
		require.LessOrEqual(t, len(s.History), MaxHistory)
	}

	require.Len(t, s.History, MaxHistory)
	for i, turn := range s.History {
		require.Equal(t, fmt.Sprintf("u%d", i+7), turn.User)
		require.Equal(t, fmt.Sprintf("a%d", i+7), turn.Assistant)
	}
	require.Equal(t, testNow.Add(26*time.Second), s.LastActivityAt)
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	s := New("+1", testNow)
	s.AppendTurn("hi", "hello", testNow.Add(-time.Hour))

	require.Equal(t, testNow, s.LastActivityAt)
	require.Equal(t, testNow.Add(-time.Hour), s.History[0].Timestamp)
}

func TestSetActiveProject(t *testing.T) {
	s := New("+1", testNow)

	s.SetActiveProject(" proj_1 ", testNow.Add(time.Minute))
	require.Equal(t, "proj_1", s.ActiveProject())
	require.Equal(t, testNow.Add(time.Minute), s.LastActivityAt)

	s.SetActiveProject("", testNow.Add(2*time.Minute))
	require.Nil(t, s.ActiveProjectID)
	require.Equal(t, "", s.ActiveProject())
}

func TestUpdateContextMergesExtra(t *testing.T) {
	s := New("+1", testNow)
	s.UpdateContext(ContextPatch{
		ActiveProjectName: String("Demo"),
		Extra:             map[string]any{"a": 1, "b": "two"},
	}, testNow)
	s.UpdateContext(ContextPatch{
		LastTaskSessionID: String("sess_1"),
		Extra:             map[string]any{"b": "three", "c": true},
	}, testNow.Add(time.Second))

	require.Equal(t, "Demo", s.Context.ActiveProjectName)
	require.Equal(t, "sess_1", s.Context.LastTaskSessionID)
	require.Equal(t, map[string]any{"a": 1, "b": "three", "c": true}, s.Context.Extra)
	require.Equal(t, testNow.Add(time.Second), s.LastActivityAt)
}

func TestClearHistoryKeepsIdentityAndProject(t *testing.T) {
	s := New("+1", testNow)
	s.SetActiveProject("proj_1", testNow)
	s.AppendTurn("hi", "hello", testNow)
	s.UpdateContext(ContextPatch{ProfileName: String("Ann")}, testNow)

	s.ClearHistory(testNow.Add(time.Minute))

	require.Equal(t, "+1", s.SenderID)
	require.Equal(t, testNow, s.CreatedAt)
	require.Equal(t, "proj_1", s.ActiveProject())
	require.Empty(t, s.History)
	require.Zero(t, s.Context)
	require.Equal(t, testNow.Add(time.Minute), s.LastActivityAt)
}

func TestRecentHistory(t *testing.T) {
	s := New("+1", testNow)
	for i := 0; i < 5; i++ {
		s.AppendTurn(fmt.Sprintf("u%d", i), "", testNow)
	}

	recent := s.RecentHistory(2)
	require.Len(t, recent, 2)
	require.Equal(t, "u3", recent[0].User)
	require.Equal(t, "u4", recent[1].User)

	require.Len(t, s.RecentHistory(50), 5)
	require.Empty(t, s.RecentHistory(0))
}

func TestCloneDoesNotShareState(t *testing.T) {
	s := New("+1", testNow)
	s.SetActiveProject("proj_1", testNow)
	s.AppendTurn("hi", "hello", testNow)
	s.UpdateContext(ContextPatch{Extra: map[string]any{"k": "v"}}, testNow)

	c := s.Clone()
	c.History[0].User = "changed"
	*c.ActiveProjectID = "proj_2"
	c.Context.Extra["k"] = "changed"

	require.Equal(t, "hi", s.History[0].User)
	require.Equal(t, "proj_1", s.ActiveProject())
	require.Equal(t, "v", s.Context.Extra["k"])
}
