package engine_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stridekit/stride/internal/config"
	"github.com/stridekit/stride/internal/engine"
	"github.com/stridekit/stride/internal/scenario"
	"github.com/stridekit/stride/internal/testdata"
)

// noSleep replaces real scheduler sleeps in tests.
func noSleep(context.Context, time.Duration) error { return nil }

func TestRunSharedSourceAcrossActors(t *testing.T) {
	var taskCalls atomic.Int64
	cfg := &config.RunConfig{
		Name: "shared-source",
		Scenarios: map[string]*config.ScenarioConfig{
			"s": {Users: 2},
		},
	}

	eng := engine.New(cfg, zerolog.Nop(), engine.Options{
		Tasks: map[string][]*scenario.Task{
			"s": {{
				Name: "work",
				Run: func(context.Context, *scenario.Actor) error {
					taskCalls.Add(1)
					return nil
				},
			}},
		},
		Sources: map[string]scenario.TestdataSource{
			"s": testdata.NewInMemory(
				scenario.VariableBindings{"n": 1},
				scenario.VariableBindings{"n": 2},
				scenario.VariableBindings{"n": 3},
			),
		},
		Sleep: noSleep,
	})

	result, err := eng.Run(context.Background())
	require.NoError(t, err, "all actors should retire gracefully")
	require.NotNil(t, result)

	assert.Equal(t, int64(3), taskCalls.Load(), "the two actors split the three rows")
	require.Len(t, result.Actors, 2)
	for _, a := range result.Actors {
		assert.NoError(t, a.Err)
	}

	fetches, ok := eng.Stats().Lookup(scenario.KindTestdata, "s")
	require.True(t, ok)
	assert.Equal(t, int64(3), fetches.Count)
	assert.Zero(t, fetches.Failed)
}

func TestRunHTTPScenarioFromConfig(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	cfg := &config.RunConfig{
		Name: "http-run",
		Scenarios: map[string]*config.ScenarioConfig{
			"ping": {
				Users:      1,
				Iterations: 2,
				Requests: []config.RequestConfig{
					{Name: "health", Method: http.MethodGet, URL: srv.URL + "/health"},
				},
			},
		},
	}

	eng := engine.New(cfg, zerolog.Nop(), engine.Options{Sleep: noSleep})
	result, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, int64(2), hits.Load())

	entry, ok := eng.Stats().Lookup("HTTP", "health")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Count)
	assert.Zero(t, entry.Failed)
}

func TestRunSurfacesActorFailure(t *testing.T) {
	boom := errors.New("assertion failed")
	cfg := &config.RunConfig{
		Name: "failing",
		Scenarios: map[string]*config.ScenarioConfig{
			"s": {Users: 1},
		},
	}

	eng := engine.New(cfg, zerolog.Nop(), engine.Options{
		Tasks: map[string][]*scenario.Task{
			"s": {{
				Name: "bad",
				Run:  func(context.Context, *scenario.Actor) error { return boom },
			}},
		},
		Sleep: noSleep,
	})

	result, err := eng.Run(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.NotNil(t, result, "a failed run still carries its statistics")
	require.Len(t, result.Actors, 1)
	assert.Error(t, result.Actors[0].Err)
}

func TestDrainRetiresActorsGracefully(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	cfg := &config.RunConfig{
		Name: "drain",
		Scenarios: map[string]*config.ScenarioConfig{
			"s": {Users: 2},
		},
	}

	eng := engine.New(cfg, zerolog.Nop(), engine.Options{
		Tasks: map[string][]*scenario.Task{
			"s": {{
				Name: "work",
				Run: func(context.Context, *scenario.Actor) error {
					once.Do(func() { close(started) })
					return nil
				},
			}},
		},
		Sleep: noSleep,
	})

	type outcome struct {
		result *engine.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := eng.Run(context.Background())
		done <- outcome{result, err}
	}()

	<-started
	eng.Drain()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		require.NotNil(t, out.result)
		require.Len(t, out.result.Actors, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not drain")
	}
}

func TestRunFailsOnMissingTestdataFile(t *testing.T) {
	cfg := &config.RunConfig{
		Name: "missing-data",
		Scenarios: map[string]*config.ScenarioConfig{
			"s": {
				Users:    1,
				Testdata: "/nonexistent/rows.jsonl",
				Requests: []config.RequestConfig{{Method: "GET", URL: "https://example.com"}},
			},
		},
	}

	eng := engine.New(cfg, zerolog.Nop(), engine.Options{})
	result, err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestRunSeedsVariables(t *testing.T) {
	var seen sync.Map
	cfg := &config.RunConfig{
		Name:      "vars",
		Variables: map[string]string{"env": "prod", "host": "global"},
		Scenarios: map[string]*config.ScenarioConfig{
			"s": {
				Users:     1,
				Variables: map[string]string{"host": "local"},
			},
		},
	}

	eng := engine.New(cfg, zerolog.Nop(), engine.Options{
		Tasks: map[string][]*scenario.Task{
			"s": {{
				Name: "inspect",
				Run: func(_ context.Context, a *scenario.Actor) error {
					env, _ := a.Var("env")
					host, _ := a.Var("host")
					seen.Store("env", env)
					seen.Store("host", host)
					return nil
				},
			}},
		},
		Sources: map[string]scenario.TestdataSource{
			"s": testdata.NewInMemory(scenario.VariableBindings{}),
		},
		Sleep: noSleep,
	})

	_, err := eng.Run(context.Background())
	require.NoError(t, err)

	env, _ := seen.Load("env")
	host, _ := seen.Load("host")
	assert.Equal(t, "prod", env)
	assert.Equal(t, "local", host, "scenario variables shadow run variables")
}
