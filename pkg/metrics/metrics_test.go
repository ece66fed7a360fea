// SPDX-License-Identifier: GPL-3.0-or-later

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTracksConnections(t *testing.T) {
	r := NewRegistry()
	r.ConnectionAccepted("publication")
	r.ConnectionAccepted("subscription")
	r.ConnectionDropped()

	assert.Equal(t, float64(1), testutil.ToFloat64(r.ActiveConnections))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ConnectionsTotal.WithLabelValues("publication")))
}

func TestRegistryTracksMessages(t *testing.T) {
	r := NewRegistry()
	r.MessagePublished("/chat")
	r.MessagePublished("/chat")
	r.MessageDelivered("/chat")

	assert.Equal(t, float64(2), testutil.ToFloat64(r.MessagesPublished.WithLabelValues("/chat")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.MessagesDelivered.WithLabelValues("/chat")))
}

func TestRegistryQueueDepth(t *testing.T) {
	r := NewRegistry()
	r.QueueDepthSet("spinner", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(r.CallbackQueueDepth.WithLabelValues("spinner")))
}

func TestTimerObserveDurationRecordsToHistogram(t *testing.T) {
	r := NewRegistry()
	timer := NewTimer(r, "spinner")
	timer.ObserveDuration()

	count := testutil.CollectAndCount(r.CallbackDuration)
	assert.Equal(t, 1, count)
}

func TestNilRegistryMethodsAreNoops(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ConnectionAccepted("publication")
		r.ConnectionDropped()
		r.MessagePublished("/chat")
		r.MessageDelivered("/chat")
		r.QueueDepthSet("spinner", 1)
		NewTimer(r, "spinner").ObserveDuration()
	})
}

func TestRegistryHandlerServesExposition(t *testing.T) {
	r := NewRegistry()
	r.MessagePublished("/chat")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "roscore_messages_published_total")
}
