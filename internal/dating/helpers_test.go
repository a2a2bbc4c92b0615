package dating

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/learning"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

type outcome struct {
	subject, target int64
	success         bool
}

// fakeLearner scores with the rules and records outcomes. With useModel it
// inverts the rule score so tests can tell the strategies apart.
type fakeLearner struct {
	mu       sync.Mutex
	outcomes []outcome
}

func (f *fakeLearner) ScorePair(_ context.Context, a, b *profile.UserProfile, useModel bool) (float64, learning.Method) {
	score := compat.NewRuleScorer().Score(a, b)
	if useModel {
		return 1 - score, learning.MethodAIModel
	}
	return score, learning.MethodTraditional
}

func (f *fakeLearner) RecordPair(_ context.Context, subject, target *profile.UserProfile, success bool, _ *learning.InteractionMetrics) (*learning.TrainingSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome{subject.ID, target.ID, success})
	return &learning.TrainingSample{SubjectID: subject.ID, TargetID: target.ID, WasSuccessfulMatch: success}, nil
}

func (f *fakeLearner) recorded() []outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outcome(nil), f.outcomes...)
}

func coord(v float64) *float64 { return &v }

func testUsers() []*profile.UserProfile {
	return []*profile.UserProfile{
		{ID: 1, Age: 28, Gender: "female", GenderPreference: "male", Latitude: coord(6.52), Longitude: coord(3.37), Interests: []string{"music", "travel", "hiking"}},
		{ID: 2, Age: 30, Gender: "male", GenderPreference: "female", Latitude: coord(6.53), Longitude: coord(3.38), Interests: []string{"music", "travel", "hiking"}},
		{ID: 3, Age: 45, Gender: "male", GenderPreference: "both", Latitude: coord(9.07), Longitude: coord(7.49), Interests: []string{"chess"}},
		{ID: 4, Age: 29, Gender: "male", GenderPreference: "male", Latitude: coord(6.52), Longitude: coord(3.37)},
		{ID: 5, Age: 27, Gender: "female", GenderPreference: "female"},
	}
}

type fixture struct {
	users   *profile.MemoryRepository
	learner *fakeLearner
	queue   Queue
	hub     *Hub
	service *Service
}

func newFixture() *fixture {
	log := logger.NewNop()
	f := &fixture{
		users:   profile.NewMemoryRepository(testUsers()...),
		learner: &fakeLearner{},
		queue:   NewMemoryQueue(),
	}
	f.hub = NewHub(f.queue, f.users, log)
	f.service = NewService(f.users, f.learner, f.hub, log)
	return f
}

// queued drains and returns the events waiting for userID
func (f *fixture) queued(t *testing.T, userID int64) []*Event {
	t.Helper()
	events, err := f.queue.Drain(context.Background(), userID)
	require.NoError(t, err)
	return events
}

func testClient(hub *Hub, userID int64) *Client {
	return &Client{hub: hub, userID: userID, send: make(chan []byte, 8)}
}

func receive(t *testing.T, c *Client) *Event {
	t.Helper()
	select {
	case data := <-c.send:
		var ev Event
		require.NoError(t, json.Unmarshal(data, &ev))
		return &ev
	default:
		t.Fatal("no event waiting")
		return nil
	}
}
