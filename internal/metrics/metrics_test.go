package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetOnline(t *testing.T) {
	SetOnline(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(Online))

	SetOnline(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(Online))
}

func TestScansTotal(t *testing.T) {
	c := ScansTotal.WithLabelValues("VALID", "QUEUED")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
