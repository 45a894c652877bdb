package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgroPulse/internal/domain/models"
)

func TestReportDemo(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"report", "--demo", "--days", "60", "--products", "3", "--config", t.TempDir() + "/missing.yaml"})
	require.NoError(t, rootCmd.Execute())

	var r models.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &r))
	assert.Equal(t, 3*3*60, r.Summary.TotalRecords)
	assert.Len(t, r.Sentiment, 3)
	assert.Len(t, r.Monitoring, 3*3)
	// 60 days is below the two windows a model needs
	assert.Empty(t, r.Predictions)
}
