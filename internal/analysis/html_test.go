package analysis

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	err := RenderHTML(fixtureRecords(), HTMLOptions{Title: "Ramp run", AssetsHost: "http://127.0.0.1:8080/assets/"}, &buf)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "Ramp run")
	assert.Contains(t, out, "Rangefinder")
	assert.Contains(t, out, "sub - terrain")
	assert.Contains(t, out, "http://127.0.0.1:8080/assets/")
}

func TestRenderHTML_NoRecords(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, errors.Is(RenderHTML(nil, HTMLOptions{}, &buf), ErrNoSamples))
	assert.Zero(t, buf.Len())
}
