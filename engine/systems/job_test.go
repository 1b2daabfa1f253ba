package systems

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobSystemValidates(t *testing.T) {
	_, err := NewJobSystem(0, 1)
	assert.ErrorIs(t, err, ErrNoWorkers)
	_, err = NewJobSystem(1, -1)
	assert.ErrorIs(t, err, ErrNegativeChannelSize)
}

func TestJobCallbacks(t *testing.T) {
	js, err := NewJobSystem(2, 0)
	require.NoError(t, err)

	done := make(chan string, 4)
	boom := errors.New("boom")
	require.NoError(t, js.Submit(JobTask{
		Name:                 "ok",
		OnStart:              func() error { return nil },
		OnComplete:           func() { done <- "complete" },
		OnFailure:            func(error) { done <- "failure" },
		OnCompletionCallback: func() { done <- "ok finished" },
	}))
	require.NoError(t, js.Submit(JobTask{
		Name:    "fails",
		OnStart: func() error { return boom },
		OnFailure: func(err error) {
			assert.ErrorIs(t, err, boom)
			done <- "failure"
		},
	}))
	require.NoError(t, js.Shutdown())
	close(done)

	var got []string
	for s := range done {
		got = append(got, s)
	}
	assert.ElementsMatch(t, []string{"complete", "ok finished", "failure"}, got)
}

func TestRunAllJoinsErrors(t *testing.T) {
	js, err := NewJobSystem(3, 3)
	require.NoError(t, err)
	defer js.Shutdown()

	var ran atomic.Int32
	first := errors.New("first")
	third := errors.New("third")
	err = js.RunAll("batch",
		func() error { ran.Add(1); return first },
		func() error { ran.Add(1); return nil },
		func() error { ran.Add(1); return third },
	)
	assert.Equal(t, int32(3), ran.Load())
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, third)

	assert.NoError(t, js.RunAll("empty"))
}

func TestSubmitAfterShutdown(t *testing.T) {
	js, err := NewJobSystem(1, 0)
	require.NoError(t, err)
	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())

	assert.ErrorIs(t, js.Submit(JobTask{OnStart: func() error { return nil }}), ErrJobSystemClosed)
	assert.ErrorIs(t, js.RunAll("late", func() error { return nil }), ErrJobSystemClosed)
}
