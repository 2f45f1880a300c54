package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerBounds(t *testing.T) {
	p := Pacer{Min: 5 * time.Millisecond, Max: 15 * time.Millisecond}

	for i := 0; i < 50; i++ {
		d := p.next()
		assert.GreaterOrEqual(t, d, p.Min)
		assert.LessOrEqual(t, d, p.Max)
	}
}

func TestPacerZeroReturnsImmediately(t *testing.T) {
	start := time.Now()
	assert.NoError(t, Pacer{}.Pause(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPacerPauseHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Pacer{Min: time.Hour, Max: time.Hour}
	err := p.Pause(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
