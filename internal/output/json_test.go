package output

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dicklesworthstone/sysmoni/internal/errors"
	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/severity"
)

func bundle(first bool, cpu float64) model.Bundle {
	b := model.Bundle{
		Taken:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Elapsed: time.Second,
		First:   first,
		Metrics: map[string]model.Metric{
			model.MetricMemUsage: model.NewMetric(model.MetricMemUsage, 87.5, model.UnitPercent),
		},
		Omitted: []model.Family{model.FamilyGPU},
	}
	if !first {
		b.Metrics[model.MetricCPUUsage] = model.NewMetric(model.MetricCPUUsage, cpu, model.UnitPercent)
	}
	b.ApplySeverity(severity.DefaultTable())
	return b
}

func TestStream_WritesOneLinePerBundle(t *testing.T) {
	var buf bytes.Buffer
	w := NewStream(&buf)

	require.NoError(t, w.Publish(bundle(true, 0)))
	require.NoError(t, w.Publish(bundle(false, 50)))
	require.NoError(t, w.Publish(bundle(false, 95)))

	var lines []map[string]interface{}
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var doc map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &doc), "line %q", sc.Text())
		lines = append(lines, doc)
	}
	require.Len(t, lines, 3)

	assert.Equal(t, true, lines[0]["first"])
	metrics := lines[0]["metrics"].(map[string]interface{})
	assert.NotContains(t, metrics, model.MetricCPUUsage)

	cpu := lines[2]["metrics"].(map[string]interface{})[model.MetricCPUUsage].(map[string]interface{})
	assert.Equal(t, 95.0, cpu["value"])
	assert.Equal(t, "critical", cpu["severity"])
	assert.Equal(t, "%", cpu["unit"])
	assert.Equal(t, []interface{}{"gpu"}, lines[1]["omitted"])
}

func TestSnapshot_SkipsFirstBundle(t *testing.T) {
	var buf bytes.Buffer
	w := NewSnapshot(&buf)

	require.NoError(t, w.Publish(bundle(true, 0)))
	assert.Zero(t, buf.Len())

	require.NoError(t, w.Publish(bundle(false, 42)))

	var doc struct {
		First   bool `json:"first"`
		Metrics map[string]struct {
			Value    float64 `json:"value"`
			Severity string  `json:"severity"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.False(t, doc.First)
	assert.Equal(t, 42.0, doc.Metrics[model.MetricCPUUsage].Value)
	assert.Equal(t, "warning", doc.Metrics[model.MetricMemUsage].Severity)
	assert.Contains(t, buf.String(), "\n  \"", "indented")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("broken pipe") }

func TestPublish_WriteError(t *testing.T) {
	err := NewStream(failingWriter{}).Publish(bundle(false, 1))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRender))
	assert.Contains(t, err.Error(), "broken pipe")
}
