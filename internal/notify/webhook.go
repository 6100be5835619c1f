// Package notify reports finished ingestion runs to an HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dvloznov/dre-pipeline/internal/domain"
	"github.com/dvloznov/dre-pipeline/internal/logger"
	"github.com/dvloznov/dre-pipeline/internal/pipeline"
	"github.com/dvloznov/dre-pipeline/internal/retry"
	"github.com/dvloznov/dre-pipeline/internal/secrets"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// EventExecutionFinished is the event name of every payload.
const EventExecutionFinished = "dre.execution.finished"

const defaultTimeout = 10 * time.Second

// Payload is the JSON body posted to the webhook.
type Payload struct {
	Event   string           `json:"event"`
	Subject string           `json:"subject"`
	Text    string           `json:"text"`
	SentAt  time.Time        `json:"sent_at"`
	Result  *pipeline.Result `json:"result"`
}

// Webhook posts a Payload for each finished run.
type Webhook struct {
	URL          string
	Token        string // sent as a bearer token when set
	OnlyFailures bool
	Timeout      time.Duration // per attempt
	Retry        retry.Policy
	Client       *http.Client
	Now          func() time.Time
}

// NewWebhook returns a Webhook with a 10s attempt timeout and two retries.
func NewWebhook(url, token string) *Webhook {
	p := retry.DefaultPolicy()
	p.MaxRetries = 2
	p.BaseDelay = time.Second
	p.MaxDelay = 5 * time.Second
	return &Webhook{URL: url, Token: token, Timeout: defaultTimeout, Retry: p}
}

// Notify posts res. 5xx responses and transport errors are retried; other non-2xx responses are not.
func (w *Webhook) Notify(ctx context.Context, res *pipeline.Result) error {
	if res == nil || (w.OnlyFailures && res.Success) {
		return nil
	}
	log := logger.FromContext(ctx)

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	body, err := json.Marshal(Payload{
		Event:   EventExecutionFinished,
		Subject: Subject(res),
		Text:    Summary(res),
		SentAt:  now().UTC(),
		Result:  res,
	})
	if err != nil {
		return fmt.Errorf("Notify: encoding payload: %w", err)
	}

	attempts, err := w.Retry.Execute(ctx, "notify", func(ctx context.Context, attempt int) error {
		return w.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("Notify: %w", err)
	}

	log.Info().
		Str("execution_id", res.ExecutionID).
		Str("status", string(res.Status)).
		Str("webhook", secrets.Mask(w.URL)).
		Int("attempts", attempts).
		Msg("Completion notification sent")
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DRE-Event", EventExecutionFinished)
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return &domain.TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return &domain.TransientNetworkError{StatusCode: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("webhook rejected notification: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Subject is a one-line headline for a result.
func Subject(res *pipeline.Result) string {
	name := res.FileName
	if name == "" {
		name = "arquivo"
	}
	if res.Success {
		return fmt.Sprintf("[DRE] Processamento concluído - %s", name)
	}
	return fmt.Sprintf("[DRE] Processamento falhou - %s", name)
}

var ptBR = message.NewPrinter(language.BrazilianPortuguese)

// Summary renders the counts of a result as plain text with Brazilian number formatting.
func Summary(res *pipeline.Result) string {
	var b bytes.Buffer
	ptBR.Fprintf(&b, "Status: %s\n", res.Status)
	if res.FileName != "" {
		ptBR.Fprintf(&b, "Arquivo: %s\n", res.FileName)
	}
	ptBR.Fprintf(&b, "Registros processados: %d\n", res.RecordsProcessed)
	ptBR.Fprintf(&b, "Registros importados: %d\n", res.RecordsImported)
	ptBR.Fprintf(&b, "Registros ignorados: %d\n", res.RecordsSkipped)
	ptBR.Fprintf(&b, "Registros com erro: %d\n", res.RecordsFailed)
	ptBR.Fprintf(&b, "Tempo de execução: %.1fs\n", res.DurationSeconds)
	if res.Error != "" {
		ptBR.Fprintf(&b, "Erro: %s\n", res.Error)
	}
	return b.String()
}
