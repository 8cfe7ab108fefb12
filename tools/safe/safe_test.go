package safe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go("boom", func() {
		defer close(done)
		panic("boom")
	})
	<-done
}

func TestRunReturnsNormally(t *testing.T) {
	ran := false
	Run("ok", func() { ran = true })
	assert.True(t, ran)
}

func TestMustNotNil(t *testing.T) {
	var p *int
	require.Panics(t, func() { MustNotNil(p, "p") })
	require.Panics(t, func() { MustNotNil(nil, "nil") })
	require.NotPanics(t, func() { MustNotNil(1, "int") })
}
