package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-backend/internal/config"
)

func TestInitMetricsWithGlobalNoopProvider(t *testing.T) {
	m, err := InitMetrics()
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.RecordRequest("POST", "/llm/process", "200", 0.12)
		m.RecordQuery("openai", "answered", 3, false, 0.8)
		m.RecordQuery("gemini", "no_context", 0, true, 0.2)
		m.RecordLLMCall("openai", "gpt-4o-mini", 120, true)
		m.RecordIndexJob("openai", "indexed", 42, 3.5)
		m.RecordCircuitBreakerState("openai-chat", "open")
		m.RecordCollectionRecreation("rag_collection", 768, 1536)
	})
}

func TestInitTracerDisabledIsNoop(t *testing.T) {
	shutdown, err := InitTracer(&config.Config{OTelEnabled: false})
	require.NoError(t, err)
	assert.NotPanics(t, shutdown)
}
