// Package queue hands e-mail jobs to an external worker. Delivery, templating and retries
// are the consumer's business; jobs only carry the retry policy the consumer applies.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/YvesL-Web/project-manager/internal/obs"
)

const (
	DefaultQueueName     = "emailQueue"
	DefaultMaxAttempts   = 4
	DefaultBackoffMillis = 2000
)

// ErrInvalidJob is returned for jobs without recipient or subject.
var ErrInvalidJob = errors.New("queue: invalid job")

// EmailJob is the message published for every outgoing e-mail.
type EmailJob struct {
	To            string `json:"to"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	MaxAttempts   int    `json:"max_attempts"`
	BackoffMillis int    `json:"backoff_ms"`
}

// EmailQueue accepts e-mail jobs for asynchronous delivery.
type EmailQueue interface {
	Enqueue(ctx context.Context, job EmailJob) error
}

// WelcomeEmail is sent after an account is created.
func WelcomeEmail(username, email string) EmailJob {
	body := fmt.Sprintf("Hello %s,\n\nYour account has been created. You can now sign in with %s.\n", username, email)
	return EmailJob{
		To:            email,
		Subject:       "Welcome to Project Manager",
		Body:          body,
		MaxAttempts:   DefaultMaxAttempts,
		BackoffMillis: DefaultBackoffMillis,
	}
}

func normalize(job EmailJob) (EmailJob, error) {
	job.To = strings.TrimSpace(job.To)
	job.Subject = strings.TrimSpace(job.Subject)
	if job.To == "" || job.Subject == "" {
		return EmailJob{}, fmt.Errorf("%w: recipient and subject are required", ErrInvalidJob)
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	if job.BackoffMillis <= 0 {
		job.BackoffMillis = DefaultBackoffMillis
	}
	return job, nil
}

// LogQueue writes jobs to the structured log instead of a broker. Used when no broker
// is configured.
type LogQueue struct{}

func (LogQueue) Enqueue(_ context.Context, job EmailJob) error {
	job, err := normalize(job)
	if err != nil {
		return err
	}
	obs.Info("email_job_logged", map[string]any{
		"to":           job.To,
		"subject":      job.Subject,
		"max_attempts": job.MaxAttempts,
	})
	return nil
}
