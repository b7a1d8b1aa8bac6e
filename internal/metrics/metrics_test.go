package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBoolToFloat(t *testing.T) {
	require.Equal(t, 1.0, BoolToFloat(true))
	require.Equal(t, 0.0, BoolToFloat(false))
}

func TestForget(t *testing.T) {
	Connected.WithLabelValues("forget-a").Set(1)
	Connected.WithLabelValues("forget-b").Set(1)
	Refreshes.WithLabelValues("forget-a", "connected").Inc()

	Forget("forget-a")

	require.Equal(t, 1.0, testutil.ToFloat64(Connected.WithLabelValues("forget-b")))
	require.Equal(t, 0.0, testutil.ToFloat64(Connected.WithLabelValues("forget-a")))
	require.Equal(t, 0.0, testutil.ToFloat64(Refreshes.WithLabelValues("forget-a", "connected")))
}
