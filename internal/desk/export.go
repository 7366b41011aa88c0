// ABOUTME: Results export as a UTF-8 CSV document, in chat and from the CLI
// ABOUTME: Rows are ordered by score descending, then full name

package desk

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
	"github.com/2389/olymp-desk/internal/store"
)

// ExportName is the file name of the exported document.
const ExportName = "results.csv"

var exportHeader = []string{
	"ID в БД",
	"ID участника",
	"Username",
	"ФИО",
	"Очки (Points)",
	"Телефон",
	"Населенный пункт",
	"Учебное заведение",
	"Класс/Курс",
	"Email",
	"Логин",
	"Пароль",
	"Хэш пароля",
	"Статус бана",
}

// WriteCSV writes the results table. A byte order mark lets spreadsheet
// tools detect UTF-8.
func WriteCSV(w io.Writer, profiles []*store.Profile) error {
	rows := append([]*store.Profile(nil), profiles...)
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		return rows[i].FullName < rows[j].FullName
	})

	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, p := range rows {
		handle := "Нет"
		if p.Handle != "" {
			handle = "@" + p.Handle
		}
		banned := "-"
		if p.Banned {
			banned = "ЗАБАНЕН"
		}
		record := []string{
			strconv.FormatInt(p.ID, 10),
			p.ExternalID.String(),
			handle,
			p.FullName,
			strconv.Itoa(p.Score),
			p.Phone,
			p.PlaceOfStudy,
			p.School,
			p.Grade,
			p.Email,
			p.Login,
			p.Password,
			p.PasswordHash,
			banned,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (d *Desk) exportSteps() []fsm.Step {
	return []fsm.Step{
		{From: session.None, On: chat.KindAny, Action: "export", Run: d.export},
	}
}

func (d *Desk) export(ctx context.Context, c *fsm.Call) error {
	if err := d.requireStaff(c.Actor); err != nil {
		return err
	}
	progress := d.say(ctx, c.Actor, "export.started", nil)
	defer func() {
		if progress != "" {
			_ = d.out.DeleteMessage(ctx, c.Actor, progress)
		}
	}()

	profiles, err := d.profiles.ListAll(ctx)
	if err != nil {
		d.logger.Error("export failed", "error", err)
		d.say(ctx, c.Actor, "export.failed", nil)
		return nil
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, profiles); err != nil {
		d.logger.Error("export failed", "error", err)
		d.say(ctx, c.Actor, "export.failed", nil)
		return nil
	}

	doc := chat.Media{
		Kind:     chat.MediaDocument,
		Name:     ExportName,
		MimeType: "text/csv",
		Data:     buf.Bytes(),
	}
	caption := chat.Plain(d.texts.Get("export.caption", len(profiles)))
	if _, err := d.out.SendMedia(ctx, c.Actor, doc, caption); err != nil {
		return fmt.Errorf("sending export: %w", err)
	}
	return nil
}
