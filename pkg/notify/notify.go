// Package notify delivers job lifecycle emails. The engine calls the
// mailer once per terminal transition for jobs that requested it; send
// failures surface to the caller and never change the job outcome.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/metrics"
	"github.com/trellisproc/trellis/pkg/security"
	"github.com/trellisproc/trellis/pkg/types"
)

// Config carries the SMTP settings and the public service root used to
// build the document links in the message body.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	SSL      bool
	BaseURL  string
}

// Mailer sends one email per finished job. Notification addresses are
// stored sealed on the job record and opened only at send time.
type Mailer struct {
	cfg     Config
	secrets *security.SecretsManager
	log     zerolog.Logger

	// send is swappable so tests capture messages instead of dialing
	send func(m *gomail.Message) error
}

// NewMailer validates the SMTP settings and builds a mailer. secrets may
// be nil when addresses are stored in the clear.
func NewMailer(cfg Config, secrets *security.SecretsManager) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("notify: smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("notify: sender address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	m := &Mailer{
		cfg:     cfg,
		secrets: secrets,
		log:     log.WithComponent("notify"),
	}
	m.send = func(msg *gomail.Message) error {
		d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
		d.SSL = cfg.SSL
		return d.DialAndSend(msg)
	}
	return m, nil
}

// Notify emails the job's terminal state to its notification address.
func (m *Mailer) Notify(ctx context.Context, job *types.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	address, err := m.recipient(job)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return err
	}

	body, err := m.body(job)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("render notification for job %s: %w", job.ID, err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", address)
	msg.SetHeader("Subject", fmt.Sprintf("Job %s %s", job.ID, job.Status))
	msg.SetBody("text/html", body)

	if err := m.send(msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("send notification for job %s: %w", job.ID, err)
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	m.log.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("notification sent")
	return nil
}

// recipient opens the sealed notification address. Addresses recorded
// before sealing was configured pass through when they still look like
// an address.
func (m *Mailer) recipient(job *types.Job) (string, error) {
	raw := job.NotificationEmail
	if raw == "" {
		return "", fmt.Errorf("job %s carries no notification address", job.ID)
	}
	if m.secrets == nil {
		return raw, nil
	}
	address, err := m.secrets.OpenString(raw)
	if err != nil {
		if strings.Contains(raw, "@") {
			return raw, nil
		}
		return "", fmt.Errorf("open notification address for job %s: %w", job.ID, err)
	}
	return address, nil
}

var bodyTemplate = template.Must(template.New("notification").Parse(`<html>
<body>
<h3>Job {{.Job.ID}}</h3>
<p>Process <b>{{.Process}}</b> finished with status <b>{{.Job.Status}}</b> after {{.Duration}}.</p>
{{if .Job.StatusMessage}}<p>{{.Job.StatusMessage}}</p>{{end}}
<ul>
<li><a href="{{.StatusLink}}">Job status</a></li>
{{if .ResultsLink}}<li><a href="{{.ResultsLink}}">Results</a></li>{{end}}
{{if .ExceptionsLink}}<li><a href="{{.ExceptionsLink}}">Exceptions</a></li>{{end}}
<li><a href="{{.LogsLink}}">Logs</a></li>
</ul>
</body>
</html>
`))

type bodyData struct {
	Job            *types.Job
	Process        string
	Duration       string
	StatusLink     string
	ResultsLink    string
	ExceptionsLink string
	LogsLink       string
}

func (m *Mailer) body(job *types.Job) (string, error) {
	self := m.cfg.BaseURL + "/jobs/" + job.ID
	data := bodyData{
		Job:        job,
		Process:    job.ProcessID,
		Duration:   job.Duration().Round(time.Second).String(),
		StatusLink: self,
		LogsLink:   self + "/logs",
	}
	if job.Service != "" {
		data.Process = job.Service + "/" + job.ProcessID
	}
	switch job.Status {
	case types.JobSucceeded:
		data.ResultsLink = self + "/results"
	case types.JobFailed, types.JobException:
		data.ExceptionsLink = self + "/exceptions"
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
