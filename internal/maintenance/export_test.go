package maintenance

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/originbrain/internal/models"
)

func TestScheduleExport(t *testing.T) {
	sub := &recordingSubmitter{}
	f := newFixture(t, WithSubmitter(sub))
	ctx := context.Background()
	f.add(t, &models.ArtifactInput{ID: "a", Title: "Alpha", Content: "first", Metadata: map[string]interface{}{"tags": []string{"go"}}})
	f.add(t, &models.ArtifactInput{ID: "b", Title: "Beta", Content: "second"})
	require.NoError(t, f.store.UpdateConsumptionStatus(ctx, "b", models.StatusApplied))

	exportID, _, err := f.service.ScheduleExport(ExportJSON, models.UnconsumedOnly())
	require.NoError(t, err)
	require.Equal(t, []string{"export"}, sub.names)
	require.NoError(t, sub.fns[0](ctx))

	var out Export
	found, err := f.cache.Get(ctx, PrefixExport, exportID, &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, out.Count)
	var artifacts []models.Artifact
	require.NoError(t, json.Unmarshal([]byte(out.Content), &artifacts))
	require.Len(t, artifacts, 1)
	assert.Equal(t, "a", artifacts[0].ID)
}

func TestRunExport_Markdown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.add(t, &models.ArtifactInput{ID: "a", Title: "Alpha", Content: "first", Metadata: map[string]interface{}{"tags": []string{"go"}}})

	require.NoError(t, f.service.RunExport(ctx, "x1", ExportMarkdown, nil))
	var out Export
	found, err := f.cache.Get(ctx, PrefixExport, "x1", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, strings.Contains(out.Content, "## Alpha"))
	assert.True(t, strings.Contains(out.Content, "- tags: go"))
}

func TestScheduleExport_Invalid(t *testing.T) {
	f := newFixture(t, WithSubmitter(&recordingSubmitter{}))
	_, _, err := f.service.ScheduleExport("pdf", nil)
	assert.True(t, models.IsValidation(err))
}
