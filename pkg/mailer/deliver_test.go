package mailer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mailtpl "github.com/oksasatya/go-user-store/pkg/mailer/templates"
)

type sent struct {
	to, subject, text, html string
}

type fakeSender struct {
	msgs []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, text, html string) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, sent{to, subject, text, html})
	return nil
}

func TestDeliver_RendersWelcomeTemplate(t *testing.T) {
	s := &fakeSender{}
	job := EmailJob{
		To:       "ada@example.com",
		Template: mailtpl.Welcome,
		Data:     mailtpl.ToMap(mailtpl.EmailData{Name: "Ada", Email: "ada@example.com", AppName: "Users"}),
	}
	require.NoError(t, Deliver(context.Background(), s, job))
	require.Len(t, s.msgs, 1)

	m := s.msgs[0]
	assert.Equal(t, "ada@example.com", m.to)
	assert.Equal(t, "Welcome to Users, Ada", m.subject)
	assert.Contains(t, m.text, "ada@example.com")
	assert.Contains(t, m.html, "<strong>ada@example.com</strong>")
	assert.Contains(t, m.html, "The team")
}

func TestDeliver_PlainJob(t *testing.T) {
	s := &fakeSender{}
	require.NoError(t, Deliver(context.Background(), s, EmailJob{To: "a@x.com", Subject: "hi", Text: "body"}))
	require.Len(t, s.msgs, 1)
	assert.Equal(t, "hi", s.msgs[0].subject)
}

func TestDeliver_BadJobs(t *testing.T) {
	s := &fakeSender{}
	err := Deliver(context.Background(), s, EmailJob{Subject: "x"})
	assert.ErrorIs(t, err, ErrBadJob)

	err = Deliver(context.Background(), s, EmailJob{To: "a@x.com", Template: "nope"})
	assert.ErrorIs(t, err, ErrBadJob)
	assert.Empty(t, s.msgs)
}

func TestDeliver_SendErrorIsNotBadJob(t *testing.T) {
	boom := errors.New("smtp down")
	err := Deliver(context.Background(), &fakeSender{err: boom}, EmailJob{To: "a@x.com", Text: "x"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrBadJob)
}
