package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	mailtpl "github.com/oksasatya/go-user-store/pkg/mailer/templates"
)

// ErrBadJob marks jobs that can never be delivered and should not be requeued.
var ErrBadJob = errors.New("bad email job")

// Deliver renders job (when it names a template) and hands it to s.
func Deliver(ctx context.Context, s Sender, job EmailJob) error {
	if job.To == "" {
		return fmt.Errorf("%w: missing recipient", ErrBadJob)
	}
	subject, text, html := job.Subject, job.Text, job.HTML
	if job.Template != "" {
		if job.Data == nil {
			job.Data = map[string]any{}
		}
		if _, ok := job.Data["Email"]; !ok {
			job.Data["Email"] = job.To
		}
		var err error
		subject, text, html, err = mailtpl.Render(job.Template, job.Data)
		if err != nil {
			return fmt.Errorf("%w: render %s: %v", ErrBadJob, job.Template, err)
		}
	}
	c, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return s.Send(c, job.To, subject, text, html)
}
