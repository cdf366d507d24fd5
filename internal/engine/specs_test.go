package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/lint"
	"tapeoutops/internal/repo"
)

func TestCreateSpecStoresDocument(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	s := env.seedSpec(t, p, "1.2.3", validSpecJSON)

	assert.Equal(t, domain.SpecDraft, s.Status)
	assert.Equal(t, env.Owner.UserID, s.AuthorID)
	assert.Equal(t, "specs/"+p.ID+"/1.2.3/pll.json", s.FilePath)

	data, err := env.Docs.Get(env.Ctx, s.FilePath)
	require.NoError(t, err)
	assert.JSONEq(t, validSpecJSON, string(data))
	assert.Equal(t, 1, env.auditCount(t, "spec.created", "success"))

	_, err = env.Engine.CreateSpec(env.Ctx, env.Stranger, engine.CreateSpecInput{
		ProjectID: p.ID, Name: "Dup", Version: "1.2.3", Filename: "nested/dir/pll.json", Content: []byte("{}"),
	})
	var conflict engine.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCreateSpecValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	cases := []struct {
		name  string
		in    engine.CreateSpecInput
		field string
	}{
		{"bad version", engine.CreateSpecInput{ProjectID: p.ID, Name: "x", Version: "1.0", Filename: "a.json"}, "version"},
		{"missing name", engine.CreateSpecInput{ProjectID: p.ID, Name: "  ", Version: "1.0.0", Filename: "a.json"}, "name"},
		{"missing filename", engine.CreateSpecInput{ProjectID: p.ID, Name: "x", Version: "1.0.0"}, "filename"},
		{"dot filename", engine.CreateSpecInput{ProjectID: p.ID, Name: "x", Version: "1.0.0", Filename: ".."}, "filename"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.Engine.CreateSpec(env.Ctx, env.Owner, tc.in)
			var verr engine.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	_, err := env.Engine.CreateSpec(env.Ctx, env.Owner, engine.CreateSpecInput{ProjectID: "missing", Name: "x", Version: "1.0.0", Filename: "a.json"})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestCreateSpecStorageFailureLeavesNoRecord(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	env.Docs.failPut = true

	_, err := env.Engine.CreateSpec(env.Ctx, env.Owner, engine.CreateSpecInput{
		ProjectID: p.ID, Name: "PLL", Version: "1.0.0", Filename: "pll.json", Content: []byte(validSpecJSON),
	})
	require.ErrorIs(t, err, engine.ErrStorageUnavailable)

	specs, err := env.Engine.ListSpecs(env.Ctx, p.ID, "", repo.Page{})
	require.NoError(t, err)
	assert.Empty(t, specs)
	assert.Equal(t, 1, env.auditCount(t, "spec.created", "failure"))
}

func TestUpdateSpecOwnership(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	s := env.seedSpec(t, p, "1.0.0", validSpecJSON)

	desc := "new description"
	var forbidden auth.ForbiddenError
	_, err := env.Engine.UpdateSpec(env.Ctx, env.Stranger, s.ID, engine.SpecUpdateInput{Description: &desc})
	require.ErrorAs(t, err, &forbidden)
	err = env.Engine.DeleteSpec(env.Ctx, env.Stranger, s.ID)
	require.ErrorAs(t, err, &forbidden)
	_, err = env.Engine.UpdateSpec(env.Ctx, env.Admin, s.ID, engine.SpecUpdateInput{Description: &desc})
	require.ErrorAs(t, err, &forbidden)
	err = env.Engine.DeleteSpec(env.Ctx, env.Admin, s.ID)
	require.ErrorAs(t, err, &forbidden)
	_, err = env.Engine.LintSpec(env.Ctx, env.Admin, s.ID)
	require.ErrorAs(t, err, &forbidden)

	env.Clock.Advance(time.Hour)
	updated, err := env.Engine.UpdateSpec(env.Ctx, env.Owner, s.ID, engine.SpecUpdateInput{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, s.Name, updated.Name)
	assert.Equal(t, s.Version, updated.Version)
	assert.Equal(t, s.FilePath, updated.FilePath)
	assert.Equal(t, baseTime.Add(time.Hour).Format(time.RFC3339), updated.UpdatedAt)
	assert.Equal(t, s.CreatedAt, updated.CreatedAt)

	status := "shipped"
	_, err = env.Engine.UpdateSpec(env.Ctx, env.Owner, s.ID, engine.SpecUpdateInput{Status: &status})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)

	status = domain.SpecReview
	updated, err = env.Engine.UpdateSpec(env.Ctx, env.Owner, s.ID, engine.SpecUpdateInput{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, domain.SpecReview, updated.Status)

	_, err = env.Engine.UpdateSpec(env.Ctx, env.Owner, "missing", engine.SpecUpdateInput{Description: &desc})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeleteSpecStorageFailureKeepsRecord(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	s := env.seedSpec(t, p, "1.0.0", validSpecJSON)

	env.Docs.failDelete = true
	err := env.Engine.DeleteSpec(env.Ctx, env.Owner, s.ID)
	require.ErrorIs(t, err, engine.ErrStorageUnavailable)
	_, err = env.Engine.GetSpec(env.Ctx, s.ID)
	require.NoError(t, err)

	env.Docs.failDelete = false
	require.NoError(t, env.Engine.DeleteSpec(env.Ctx, env.Owner, s.ID))
	_, err = env.Engine.GetSpec(env.Ctx, s.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
	ok, err := env.Docs.Exists(env.Ctx, s.FilePath)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApproveRejectAreExclusive(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	s := env.seedSpec(t, p, "1.0.0", validSpecJSON)

	var forbidden auth.ForbiddenError
	_, err := env.Engine.ApproveSpec(env.Ctx, env.Stranger, s.ID)
	require.ErrorAs(t, err, &forbidden)

	_, err = env.Engine.ApproveSpec(env.Ctx, env.Admin, s.ID)
	require.ErrorAs(t, err, &forbidden)
	_, err = env.Engine.RejectSpec(env.Ctx, env.Admin, s.ID)
	require.ErrorAs(t, err, &forbidden)

	approved, err := env.Engine.ApproveSpec(env.Ctx, env.Owner, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SpecApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, "owner@example.com", *approved.ApprovedBy)
	assert.Nil(t, approved.RejectedBy)

	rejected, err := env.Engine.RejectSpec(env.Ctx, env.Owner, s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SpecDraft, rejected.Status)
	require.NotNil(t, rejected.RejectedBy)
	assert.Equal(t, "owner@example.com", *rejected.RejectedBy)
	assert.Nil(t, rejected.ApprovedBy)

	notes, err := env.Engine.ListNotifications(env.Ctx, env.Owner, false, repo.Page{})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	for _, n := range notes {
		assert.Equal(t, "spec_status", n.Type)
		assert.Equal(t, s.ID, n.EntityID)
	}
}

func TestLintSpecRecordsResult(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	clean := env.seedSpec(t, p, "1.0.0", validSpecJSON)
	broken := env.seedSpec(t, p, "2.0.0", `{"name":"PLL","version":7,"metadata":[1]}`)

	res, err := env.Engine.LintSpec(env.Ctx, env.Owner, clean.ID)
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
	assert.Equal(t, "No issues found", res.Summary)
	assert.Equal(t, "1.0.0", res.Metadata["spec_version"])
	assert.Equal(t, clean.FilePath, res.Metadata["file_path"])

	res, err = env.Engine.LintSpec(env.Ctx, env.Owner, broken.ID)
	require.NoError(t, err)
	types := make([]string, 0, len(res.Issues))
	for _, is := range res.Issues {
		types = append(types, is.Type)
	}
	assert.Equal(t, []string{lint.TypeMissingField, lint.TypeInvalidVersion, lint.TypeInvalidMetadata}, types)

	stored, err := env.Engine.GetLintResult(env.Ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Issues, stored.Issues)

	results, err := env.Engine.ListLintResults(env.Ctx, broken.ID, repo.Page{})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	notes, err := env.Engine.ListNotifications(env.Ctx, env.Owner, true, repo.Page{})
	require.NoError(t, err)
	assert.Len(t, notes, 2)
	assert.Equal(t, 2, env.auditCount(t, "spec.linted", "success"))

	var forbidden auth.ForbiddenError
	_, err = env.Engine.LintSpec(env.Ctx, env.Stranger, clean.ID)
	require.ErrorAs(t, err, &forbidden)
}

func TestLintSpecStorageFailureIsNotAnIssue(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	s := env.seedSpec(t, p, "1.0.0", validSpecJSON)
	env.Docs.failGet = true

	_, err := env.Engine.LintSpec(env.Ctx, env.Owner, s.ID)
	require.ErrorIs(t, err, engine.ErrStorageUnavailable)
	results, err := env.Engine.ListLintResults(env.Ctx, s.ID, repo.Page{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSpecFileURL(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	s := env.seedSpec(t, p, "1.0.0", validSpecJSON)

	u, err := env.Engine.SpecFileURL(env.Ctx, s)
	require.NoError(t, err)
	assert.Contains(t, u, "http://files.test/files/specs/")
	assert.Contains(t, u, "sig=")
}
