package observability

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoggerFieldForwarders(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf, ServiceName: "test"})

	when := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	logger.Info().
		Str("url", "https://acme.test").
		Int("count", 3).
		Dur("elapsed", time.Second).
		Time("ingested_at", when).
		Msg("fields forwarded")

	out := buf.String()
	assert.Contains(t, out, `"url":"https://acme.test"`)
	assert.Contains(t, out, `"count":3`)
	assert.Contains(t, out, `"ingested_at"`)
	assert.Contains(t, out, "fields forwarded")
}

func TestLoggerDomainContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Output: &buf, ServiceName: "test"})

	logger.WithDomain("d1").Info().Msg("scoped")
	assert.Contains(t, buf.String(), `"domain_id":"d1"`)
}
