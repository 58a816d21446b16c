package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/trellisproc/trellis/pkg/security"
	"github.com/trellisproc/trellis/pkg/types"
)

func testMailer(t *testing.T, secrets *security.SecretsManager) (*Mailer, *[]*gomail.Message) {
	t.Helper()
	m, err := NewMailer(Config{
		Host:    "smtp.example",
		From:    "trellis@example.com",
		BaseURL: "http://trellis.example/api/",
	}, secrets)
	require.NoError(t, err)

	var sent []*gomail.Message
	m.send = func(msg *gomail.Message) error {
		sent = append(sent, msg)
		return nil
	}
	return m, &sent
}

func finishedJob(status types.JobStatus) *types.Job {
	job := types.NewJob("ndvi")
	job.NotificationEmail = "ops@example.com"
	started := time.Now().UTC().Add(-90 * time.Second)
	finished := started.Add(83 * time.Second)
	job.Started = &started
	job.Finished = &finished
	job.Status = status
	return job
}

func TestNewMailerValidates(t *testing.T) {
	_, err := NewMailer(Config{From: "a@b.c"}, nil)
	assert.ErrorContains(t, err, "host")

	_, err = NewMailer(Config{Host: "smtp.example"}, nil)
	assert.ErrorContains(t, err, "sender")

	m, err := NewMailer(Config{Host: "smtp.example", From: "a@b.c", BaseURL: "http://x/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 587, m.cfg.Port)
	assert.Equal(t, "http://x", m.cfg.BaseURL)
}

func TestNotifySendsMessage(t *testing.T) {
	m, sent := testMailer(t, nil)
	job := finishedJob(types.JobSucceeded)

	require.NoError(t, m.Notify(context.Background(), job))
	require.Len(t, *sent, 1)

	msg := (*sent)[0]
	assert.Equal(t, []string{"trellis@example.com"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"ops@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Job " + job.ID + " succeeded"}, msg.GetHeader("Subject"))
}

func TestBodySucceeded(t *testing.T) {
	m, _ := testMailer(t, nil)
	job := finishedJob(types.JobSucceeded)

	body, err := m.body(job)
	require.NoError(t, err)

	self := "http://trellis.example/api/jobs/" + job.ID
	assert.Contains(t, body, "<b>ndvi</b>")
	assert.Contains(t, body, "<b>succeeded</b>")
	assert.Contains(t, body, "1m23s")
	assert.Contains(t, body, self+`"`)
	assert.Contains(t, body, self+"/results")
	assert.Contains(t, body, self+"/logs")
	assert.NotContains(t, body, "/exceptions")
}

func TestBodyFailed(t *testing.T) {
	m, _ := testMailer(t, nil)
	job := finishedJob(types.JobFailed)
	job.StatusMessage = "step ndvi: container exited with code 3"

	body, err := m.body(job)
	require.NoError(t, err)

	assert.Contains(t, body, "/exceptions")
	assert.Contains(t, body, "container exited with code 3")
	assert.NotContains(t, body, "/results")
}

func TestBodyNamesProviderProcess(t *testing.T) {
	m, _ := testMailer(t, nil)
	job := finishedJob(types.JobSucceeded)
	job.Service = "emu"
	job.ProcessID = "buffer"

	body, err := m.body(job)
	require.NoError(t, err)
	assert.Contains(t, body, "<b>emu/buffer</b>")
}

func TestNotifyUnsealsAddress(t *testing.T) {
	secrets, err := security.NewSecretsManagerFromPassword("notify-test")
	require.NoError(t, err)
	m, sent := testMailer(t, secrets)

	job := finishedJob(types.JobSucceeded)
	sealed, err := secrets.SealString("sealed@example.com")
	require.NoError(t, err)
	job.NotificationEmail = sealed

	require.NoError(t, m.Notify(context.Background(), job))
	require.Len(t, *sent, 1)
	assert.Equal(t, []string{"sealed@example.com"}, (*sent)[0].GetHeader("To"))
}

func TestNotifyAcceptsPlainAddressWithSecrets(t *testing.T) {
	secrets, err := security.NewSecretsManagerFromPassword("notify-test")
	require.NoError(t, err)
	m, sent := testMailer(t, secrets)

	job := finishedJob(types.JobSucceeded)
	require.NoError(t, m.Notify(context.Background(), job))
	require.Len(t, *sent, 1)
	assert.Equal(t, []string{"ops@example.com"}, (*sent)[0].GetHeader("To"))
}

func TestNotifyRequiresAddress(t *testing.T) {
	m, sent := testMailer(t, nil)
	job := finishedJob(types.JobSucceeded)
	job.NotificationEmail = ""

	err := m.Notify(context.Background(), job)
	assert.ErrorContains(t, err, "no notification address")
	assert.Empty(t, *sent)
}

func TestNotifySendFailure(t *testing.T) {
	m, _ := testMailer(t, nil)
	m.send = func(*gomail.Message) error { return assert.AnError }

	err := m.Notify(context.Background(), finishedJob(types.JobSucceeded))
	assert.ErrorContains(t, err, "send notification")
}

func TestNotifyHonorsContext(t *testing.T) {
	m, sent := testMailer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Notify(ctx, finishedJob(types.JobSucceeded))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *sent)
}
