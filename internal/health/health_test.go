package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckAggregatesStatus(t *testing.T) {
	c := NewChecker("test", time.Second)
	c.Register("store", func(context.Context) error { return nil })
	c.Register("exchange", func(context.Context) error { return errors.New("no responders") })

	h := c.Check(context.Background())
	assert.Equal(t, Unhealthy, h.OverallStatus)
	require.Len(t, h.Components, 2)
	assert.Equal(t, "exchange", h.Components[0].Name)
	assert.Equal(t, "no responders", h.Components[0].Message)
	assert.Equal(t, Healthy, h.Components[1].Status)
}

func TestProbeIsBounded(t *testing.T) {
	c := NewChecker("test", 10*time.Millisecond)
	c.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := c.Check(context.Background())
	assert.Equal(t, Unhealthy, h.OverallStatus)
}

func TestUpdateDegrades(t *testing.T) {
	c := NewChecker("test", time.Second)
	c.Register("persistence", nil)
	c.Update("persistence", Degraded, "3 dead letters")
	assert.Equal(t, Degraded, c.Health().OverallStatus)
}
