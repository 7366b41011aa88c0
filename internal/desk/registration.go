// ABOUTME: Participant registration flow from full name through agreement to confirm
// ABOUTME: Confirm creates the profile with generated credentials and returns them

package desk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/2389/olymp-desk/internal/chat"
	"github.com/2389/olymp-desk/internal/fsm"
	"github.com/2389/olymp-desk/internal/session"
	"github.com/2389/olymp-desk/internal/store"
)

const (
	regFullName  session.Tag = "registration.full_name"
	regPhone     session.Tag = "registration.phone"
	regPlace     session.Tag = "registration.place"
	regSchool    session.Tag = "registration.school"
	regGrade     session.Tag = "registration.grade"
	regEmail     session.Tag = "registration.email"
	regAgreement session.Tag = "registration.agreement"
	regConfirm   session.Tag = "registration.confirm"
)

var phonePattern = regexp.MustCompile(`^\+7 \(\d{3}\) \d{3}-\d{2}-\d{2}$`)

const gradeAction = "grade_"

func (d *Desk) registrationSteps() []fsm.Step {
	return []fsm.Step{
		{From: session.None, On: chat.KindAny, Action: "register", Next: regFullName, Run: d.startRegistration},
		{From: regFullName, On: chat.KindText, Next: regPhone, Run: d.field("full_name", "registration.phone")},
		{From: regPhone, On: chat.KindText, Next: regPlace, Run: d.takePhone},
		{From: regPlace, On: chat.KindText, Next: regSchool, Run: d.field("place", "registration.school")},
		{From: regSchool, On: chat.KindText, Next: regGrade, Run: d.takeSchool},
		{From: regGrade, On: chat.KindAny, Action: gradeAction + "*", Next: regEmail, Run: d.takeGrade},
		{From: regGrade, On: chat.KindText, Next: regEmail, Run: d.takeGrade},
		{From: regEmail, On: chat.KindText, Next: regAgreement, Run: d.takeEmail},
		{From: regAgreement, On: chat.KindAny, Action: "agreement_doc", Run: d.sendAgreement},
		{From: regAgreement, On: chat.KindAny, Action: "accept", Next: regConfirm, Run: d.acceptAgreement},
		{From: regAgreement, On: chat.KindText, Run: reject("registration.agreement_pending")},
		{From: regConfirm, On: chat.KindAny, Action: "confirm", Next: fsm.Done, Run: d.confirmRegistration},
		{From: regConfirm, On: chat.KindText, Run: reject("registration.confirm_pending")},
	}
}

// reject re-prompts without moving.
func reject(notice string) fsm.Handler {
	return func(context.Context, *fsm.Call) error {
		return fsm.Invalid(notice)
	}
}

func (d *Desk) startRegistration(ctx context.Context, c *fsm.Call) error {
	_, found, err := d.profile(ctx, c.Actor)
	if err != nil {
		return err
	}
	if found {
		d.say(ctx, c.Actor, "registration.already", []string{"get_creds"})
		c.Done()
		return nil
	}
	c.Set("handle", c.Event().Handle)
	d.prompt(ctx, c, "registration.full_name", []string{"home"})
	return nil
}

// field stores the trimmed text under key and prompts for the next one.
func (d *Desk) field(key, next string) fsm.Handler {
	return func(ctx context.Context, c *fsm.Call) error {
		value := strings.TrimSpace(c.Event().Text)
		if value == "" {
			return fsm.Invalid("common.unknown")
		}
		c.Set(key, value)
		d.prompt(ctx, c, next, []string{"home"})
		return nil
	}
}

func (d *Desk) takePhone(ctx context.Context, c *fsm.Call) error {
	phone := strings.TrimSpace(c.Event().Text)
	if !phonePattern.MatchString(phone) {
		return fsm.Invalid("registration.phone_invalid")
	}
	c.Set("phone", phone)
	d.prompt(ctx, c, "registration.place", []string{"home"})
	return nil
}

func (d *Desk) takeSchool(ctx context.Context, c *fsm.Call) error {
	school := strings.TrimSpace(c.Event().Text)
	if school == "" {
		return fsm.Invalid("common.unknown")
	}
	c.Set("school", school)

	grades := d.texts.Grades()
	actions := make([]chat.Action, 0, len(grades))
	for i, g := range grades {
		actions = append(actions, chat.Action{ID: gradeAction + strconv.Itoa(i+1), Label: g})
	}
	d.promptText(ctx, c, chat.Markdown(d.texts.Get("registration.grade"), actions...))
	return nil
}

// takeGrade accepts a grade_<n> action or the exact label typed as text.
func (d *Desk) takeGrade(ctx context.Context, c *fsm.Call) error {
	grades := d.texts.Grades()
	ev := c.Event()

	grade := ""
	if n, ok := strings.CutPrefix(ev.Action, gradeAction); ok {
		if i, err := strconv.Atoi(n); err == nil && i >= 1 && i <= len(grades) {
			grade = grades[i-1]
		}
	} else {
		for _, g := range grades {
			if strings.EqualFold(strings.TrimSpace(ev.Text), g) {
				grade = g
			}
		}
	}
	if grade == "" {
		return fsm.Invalid("registration.grade_invalid")
	}

	c.Set("grade", grade)
	d.prompt(ctx, c, "registration.email", []string{"home"}, grade)
	return nil
}

func validEmail(s string) bool {
	return strings.Contains(s, "@") && strings.Contains(s, ".")
}

func (d *Desk) takeEmail(ctx context.Context, c *fsm.Call) error {
	email := strings.TrimSpace(c.Event().Text)
	if !validEmail(email) {
		return fsm.Invalid("registration.email_invalid")
	}
	c.Set("email", email)
	data := c.Data
	d.prompt(ctx, c, "registration.review", []string{"agreement_doc", "accept", "home"},
		data.String("full_name"), data.String("phone"), data.String("place"),
		data.String("school"), data.String("grade"), email)
	return nil
}

func (d *Desk) sendAgreement(ctx context.Context, c *fsm.Call) error {
	if d.agreement == "" {
		return fsm.Invalid("registration.agreement_missing")
	}
	doc, err := os.ReadFile(d.agreement)
	if err != nil {
		d.logger.Error("reading agreement", "path", d.agreement, "error", err)
		return fsm.Invalid("registration.agreement_missing")
	}
	media := chat.Media{
		Kind:     chat.MediaDocument,
		Name:     filepath.Base(d.agreement),
		MimeType: "application/pdf",
		Data:     doc,
	}
	if _, err := d.out.SendMedia(ctx, c.Actor, media, chat.Plain(d.texts.Get("registration.agreement_caption"))); err != nil {
		return fmt.Errorf("sending agreement: %w", err)
	}
	return nil
}

func (d *Desk) acceptAgreement(ctx context.Context, c *fsm.Call) error {
	d.prompt(ctx, c, "registration.accepted", []string{"confirm", "home"})
	return nil
}

func (d *Desk) confirmRegistration(ctx context.Context, c *fsm.Call) error {
	data := c.Data
	p := &store.Profile{
		ExternalID:   c.Actor,
		Handle:       data.String("handle"),
		FullName:     data.String("full_name"),
		Phone:        data.String("phone"),
		PlaceOfStudy: data.String("place"),
		School:       data.String("school"),
		Grade:        data.String("grade"),
		Email:        data.String("email"),
	}
	created, err := d.profiles.Create(ctx, p, d.creds)
	if errors.Is(err, store.ErrDuplicate) {
		d.say(ctx, c.Actor, "registration.already", []string{"get_creds"})
		return nil
	}
	if err != nil {
		return persistErr("create profile", err)
	}

	d.dropPrompt(ctx, c)
	d.logger.Info("participant registered", "actor", c.Actor, "login", created.Login)
	d.say(ctx, c.Actor, "registration.done", d.menu(c.Actor), created.Login, created.Password)
	return nil
}
