package stardetect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusMonitor(t *testing.T) {
	var seen []int64
	s := newStatusMonitor(context.Background(), func(done int64) { seen = append(seen, done) })
	assert.NoError(t, s.Add(3))
	assert.NoError(t, s.Add(4))
	assert.NoError(t, s.Err())
	assert.Equal(t, []int64{3, 7}, seen)
}

func TestStatusMonitorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newStatusMonitor(ctx, nil)
	assert.NoError(t, s.Add(1))
	cancel()

	err := s.Add(1)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.ErrorIs(t, s.Err(), ErrCanceled)
}

func TestStatusMonitorNilContext(t *testing.T) {
	s := newStatusMonitor(nil, nil)
	assert.NoError(t, s.Add(10))
}
