package engine_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/repo"
)

func (env *testEnv) seedTemplate(t *testing.T, items ...engine.TemplateItemInput) domain.ChecklistTemplate {
	t.Helper()
	tpl, err := env.Engine.CreateTemplate(env.Ctx, env.Owner, engine.TemplateInput{Name: "Signoff", Items: items})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func (env *testEnv) seedAssignedItem(t *testing.T) (domain.ActiveChecklist, domain.ActiveChecklistItem) {
	t.Helper()
	tpl := env.seedTemplate(t, engine.TemplateItemInput{Title: "DRC clean", Order: 1})
	c, err := env.Engine.InstantiateChecklist(env.Ctx, env.Owner, engine.InstantiateInput{TemplateID: tpl.ID})
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	it, err := env.Engine.AssignItem(env.Ctx, env.Owner, c.Items[0].ID, env.Stranger.UserID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	return c, it
}

func TestCompletionOfEmptyChecklistIsZero(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.seedTemplate(t)
	c, err := env.Engine.InstantiateChecklist(env.Ctx, env.Owner, engine.InstantiateInput{TemplateID: tpl.ID})
	require.NoError(t, err)
	assert.Empty(t, c.Items)

	pct, err := env.Engine.Completion(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pct)
}

func TestInstantiateSnapshotsTemplateInOrder(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.seedTemplate(t,
		engine.TemplateItemInput{Title: "LVS", Order: 2},
		engine.TemplateItemInput{Title: "DRC", Order: 1},
		engine.TemplateItemInput{Title: "Antenna", Order: 2},
	)
	require.Equal(t, []string{"DRC", "LVS", "Antenna"}, titles(tpl.Items))

	linked := "spec-that-does-not-exist"
	c, err := env.Engine.InstantiateChecklist(env.Ctx, env.Owner, engine.InstantiateInput{TemplateID: tpl.ID, LinkedSpecID: &linked})
	require.NoError(t, err)
	assert.Equal(t, tpl.Name, c.Name)
	assert.Equal(t, domain.ChecklistActive, c.Status)
	assert.Equal(t, "owner@example.com", c.CreatedBy)
	require.NotNil(t, c.LinkedSpecID)
	assert.Equal(t, linked, *c.LinkedSpecID)

	got, pct, err := env.Engine.GetChecklist(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pct)
	require.Len(t, got.Items, 3)
	for i, it := range got.Items {
		assert.Equal(t, domain.ItemPending, it.Status)
		assert.Equal(t, tpl.Items[i].ID, it.TemplateItemID)
		assert.Equal(t, tpl.Items[i].Title, it.Title)
		assert.Equal(t, c.ID, it.ChecklistID)
	}

	require.NoError(t, env.Engine.DeleteTemplate(env.Ctx, env.Owner, tpl.ID))
	got, _, err = env.Engine.GetChecklist(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 3)
	assert.Equal(t, tpl.ID, got.TemplateID)

	_, err = env.Engine.InstantiateChecklist(env.Ctx, env.Owner, engine.InstantiateInput{TemplateID: tpl.ID})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func titles(items []domain.ChecklistTemplateItem) []string {
	res := make([]string, 0, len(items))
	for _, it := range items {
		res = append(res, it.Title)
	}
	return res
}

func TestUpdateItemRequiresAssigneeOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	c, it := env.seedAssignedItem(t)
	done := domain.ItemDone

	var forbidden auth.ForbiddenError
	_, err := env.Engine.UpdateItem(env.Ctx, env.Owner, it.ID, engine.ItemUpdateInput{Status: &done})
	require.ErrorAs(t, err, &forbidden)

	comment := "verified on rev B"
	updated, err := env.Engine.UpdateItem(env.Ctx, env.Stranger, it.ID, engine.ItemUpdateInput{Status: &done, Comment: &comment})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemDone, updated.Status)
	require.NotNil(t, updated.Comment)
	assert.Equal(t, comment, *updated.Comment)

	pct, err := env.Engine.Completion(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, pct)

	pending := domain.ItemPending
	updated, err = env.Engine.UpdateItem(env.Ctx, env.Admin, it.ID, engine.ItemUpdateInput{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, domain.ItemPending, updated.Status)

	ghost := "no-such-user"
	_, err = env.Engine.UpdateItem(env.Ctx, env.Admin, it.ID, engine.ItemUpdateInput{AssignedTo: &ghost})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAssignItemNotifiesAssignee(t *testing.T) {
	env := newTestEnv(t)
	tpl := env.seedTemplate(t, engine.TemplateItemInput{Title: "Timing signoff"})
	c, err := env.Engine.InstantiateChecklist(env.Ctx, env.Owner, engine.InstantiateInput{TemplateID: tpl.ID})
	require.NoError(t, err)

	var forbidden auth.ForbiddenError
	_, err = env.Engine.AssignItem(env.Ctx, env.Stranger, c.Items[0].ID, env.Stranger.UserID)
	require.ErrorAs(t, err, &forbidden)
	_, err = env.Engine.AssignItem(env.Ctx, env.Owner, c.Items[0].ID, "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)

	it, err := env.Engine.AssignItem(env.Ctx, env.Owner, c.Items[0].ID, env.Stranger.UserID)
	require.NoError(t, err)
	require.NotNil(t, it.AssignedToUserID)
	assert.Equal(t, env.Stranger.UserID, *it.AssignedToUserID)

	notes, err := env.Engine.ListNotifications(env.Ctx, env.Stranger, true, repo.Page{})
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "assignment", notes[0].Type)
	sent := env.Mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "stranger@example.com", sent[0].To)

	mine, err := env.Engine.UserAssignments(env.Ctx, env.Stranger, env.Stranger.UserID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	_, err = env.Engine.UserAssignments(env.Ctx, env.Owner, env.Stranger.UserID)
	require.ErrorAs(t, err, &forbidden)
	_, err = env.Engine.ChecklistAssignments(env.Ctx, env.Owner, c.ID)
	require.ErrorAs(t, err, &forbidden)
	all, err := env.Engine.ChecklistAssignments(env.Ctx, env.Admin, c.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAssignmentRespectsPreferences(t *testing.T) {
	env := newTestEnv(t)
	off := false
	_, err := env.Engine.UpdatePreference(env.Ctx, env.Stranger, engine.PreferenceInput{Type: "assignment", Email: &off})
	require.NoError(t, err)

	env.seedAssignedItem(t)
	notes, err := env.Engine.ListNotifications(env.Ctx, env.Stranger, false, repo.Page{})
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Empty(t, env.Mailer.Sent())
}

func TestUploadEvidenceRejectsBeforeStorage(t *testing.T) {
	env := newTestEnv(t)
	_, it := env.seedAssignedItem(t)

	cases := []struct {
		name     string
		filename string
		size     int
	}{
		{"bad extension", "payload.exe", 10},
		{"too large", "report.pdf", 10*1024*1024 + 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := bytes.Repeat([]byte("x"), tc.size)
			_, err := env.Engine.UploadEvidence(env.Ctx, env.Owner, it.ID, tc.filename, int64(len(body)), bytes.NewReader(body))
			var verr engine.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}

	files, err := env.Evidence.List(env.Ctx, "")
	require.NoError(t, err)
	assert.Empty(t, files)
	got, err := env.Engine.Repo.GetChecklistItem(env.Ctx, it.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EvidenceFilePath)
	assert.Equal(t, it.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, 2, env.auditCount(t, "checklist_item.evidence_uploaded", "failure"))
}

func TestUploadEvidenceReplacesPreviousFile(t *testing.T) {
	env := newTestEnv(t)
	_, it := env.seedAssignedItem(t)

	var forbidden auth.ForbiddenError
	_, err := env.Engine.UploadEvidence(env.Ctx, env.Owner, it.ID, "drc.pdf", 3, strings.NewReader("pdf"))
	require.ErrorAs(t, err, &forbidden)

	first, err := env.Engine.UploadEvidence(env.Ctx, env.Stranger, it.ID, "drc.PDF", 3, strings.NewReader("one"))
	require.NoError(t, err)
	require.NotNil(t, first.EvidenceFilePath)
	assert.True(t, strings.HasSuffix(*first.EvidenceFilePath, ".pdf"))

	second, err := env.Engine.UploadEvidence(env.Ctx, env.Stranger, it.ID, "drc.png", 3, strings.NewReader("two"))
	require.NoError(t, err)
	files, err := env.Evidence.List(env.Ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{*second.EvidenceFilePath}, files)

	u, err := env.Engine.EvidenceURL(env.Ctx, it.ID)
	require.NoError(t, err)
	assert.Contains(t, u, *second.EvidenceFilePath)
	assert.Equal(t, 2, env.auditCount(t, "checklist_item.evidence_uploaded", "success"))
}

func TestUploadEvidenceCompensatesOnDatabaseFailure(t *testing.T) {
	env := newTestEnv(t)
	_, it := env.seedAssignedItem(t)
	_, err := env.Engine.DB.Exec(`CREATE TRIGGER fail_evidence BEFORE UPDATE OF evidence_file_path ON active_checklist_items
BEGIN SELECT RAISE(ABORT, 'simulated failure'); END;`)
	require.NoError(t, err)

	_, err = env.Engine.UploadEvidence(env.Ctx, env.Stranger, it.ID, "lvs.pdf", 3, strings.NewReader("pdf"))
	require.Error(t, err)

	files, err := env.Evidence.List(env.Ctx, "")
	require.NoError(t, err)
	assert.Empty(t, files)
	got, err := env.Engine.Repo.GetChecklistItem(env.Ctx, it.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EvidenceFilePath)
	assert.Equal(t, 1, env.auditCount(t, "checklist_item.evidence_uploaded", "failure"))
}

func TestUploadEvidenceStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	_, it := env.seedAssignedItem(t)
	env.Evidence.failPut = true

	_, err := env.Engine.UploadEvidence(env.Ctx, env.Stranger, it.ID, "lvs.pdf", 3, strings.NewReader("pdf"))
	require.ErrorIs(t, err, engine.ErrStorageUnavailable)
	got, err := env.Engine.Repo.GetChecklistItem(env.Ctx, it.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EvidenceFilePath)
}

func TestDeleteChecklistRemovesEvidence(t *testing.T) {
	env := newTestEnv(t)
	c, it := env.seedAssignedItem(t)
	_, err := env.Engine.UploadEvidence(env.Ctx, env.Stranger, it.ID, "lvs.pdf", 3, strings.NewReader("pdf"))
	require.NoError(t, err)

	var forbidden auth.ForbiddenError
	err = env.Engine.DeleteChecklist(env.Ctx, env.Stranger, c.ID)
	require.ErrorAs(t, err, &forbidden)

	require.NoError(t, env.Engine.DeleteChecklist(env.Ctx, env.Owner, c.ID))
	files, err := env.Evidence.List(env.Ctx, "")
	require.NoError(t, err)
	assert.Empty(t, files)
	_, err = env.Engine.Repo.GetChecklistItem(env.Ctx, it.ID)
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestUpdateChecklistStatus(t *testing.T) {
	env := newTestEnv(t)
	c, _ := env.seedAssignedItem(t)

	_, err := env.Engine.UpdateChecklistStatus(env.Ctx, env.Owner, c.ID, "paused")
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)

	updated, err := env.Engine.UpdateChecklistStatus(env.Ctx, env.Owner, c.ID, domain.ChecklistCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.ChecklistCompleted, updated.Status)

	list, err := env.Engine.ListChecklists(env.Ctx, domain.ChecklistCompleted, "", repo.Page{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSyncEvidence(t *testing.T) {
	env := newTestEnv(t)
	_, it := env.seedAssignedItem(t)
	item, err := env.Engine.UploadEvidence(env.Ctx, env.Stranger, it.ID, "lvs.pdf", 3, strings.NewReader("pdf"))
	require.NoError(t, err)
	require.NoError(t, env.Evidence.Put(env.Ctx, "stray.pdf", strings.NewReader("x"), "application/pdf"))

	rep, err := env.Engine.SyncEvidence(env.Ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"stray.pdf"}, rep.Orphaned)
	assert.Empty(t, rep.Missing)
	assert.Empty(t, rep.Removed)

	require.NoError(t, env.Evidence.Delete(env.Ctx, *item.EvidenceFilePath))
	rep, err = env.Engine.SyncEvidence(env.Ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{*item.EvidenceFilePath}, rep.Missing)
	assert.Equal(t, []string{"stray.pdf"}, rep.Removed)

	got, err := env.Engine.Repo.GetChecklistItem(env.Ctx, it.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.EvidenceFilePath)
}
