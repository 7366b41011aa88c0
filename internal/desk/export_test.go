package desk

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/olymp-desk/internal/store"
)

func TestWriteCSV(t *testing.T) {
	profiles := []*store.Profile{
		{ID: 1, ExternalID: 10, FullName: "Борисов", Score: 5, Login: "user1", Password: "p1", PasswordHash: "h1"},
		{ID: 2, ExternalID: 20, Handle: "ann", FullName: "Антонова", Score: 9, Banned: true},
		{ID: 3, ExternalID: 30, FullName: "Андреев", Score: 5, Grade: "9 класс", Email: "a@b.c"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, profiles))
	require.True(t, strings.HasPrefix(buf.String(), "\ufeff"))

	rows, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(buf.String(), "\ufeff"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, []string{"2", "20", "@ann", "Антонова", "9", "", "", "", "", "", "", "", "", "ЗАБАНЕН"}, rows[1])
	assert.Equal(t, "Андреев", rows[2][3], "score ties break on name")
	assert.Equal(t, "Нет", rows[2][2])
	assert.Equal(t, []string{"1", "10", "Нет", "Борисов", "5", "", "", "", "", "", "user1", "p1", "h1", "-"}, rows[3])

	assert.Equal(t, "Борисов", profiles[0].FullName, "input order untouched")
}

func TestExportAction(t *testing.T) {
	h := newHarness(t)
	h.register(participant)
	h.register(bystander)

	h.action(staffer, "export")

	doc := h.last(staffer)
	assert.Equal(t, "media", doc.Op)
	require.Len(t, doc.Media, 1)
	assert.Equal(t, ExportName, doc.Media[0].Name)
	assert.Equal(t, "text/csv", doc.Media[0].MimeType)
	assert.Equal(t, h.texts.Get("export.caption", 2), doc.Text.Body)
	assert.Contains(t, string(doc.Media[0].Data), "Участник pupil")
	assert.NotEmpty(t, h.out.Deleted(staffer), "progress message removed")

	h.action(participant, "export")
	h.lastSays(participant, "common.not_allowed")
}
