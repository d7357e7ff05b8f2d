package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/grantdraft/grantdraft/engine/domain"
	"github.com/grantdraft/grantdraft/pkg/natsutil"
)

const (
	// RequestSubject carries ingestion requests.
	RequestSubject = "grantdraft.ingest.request"
	// ResultSubject receives one Result per handled request.
	ResultSubject = "grantdraft.ingest.result"
	// DLQSubject is the dead letter subject for requests that kept failing.
	DLQSubject = "grantdraft.ingest.dlq"
	// QueueGroup lets several consumers share the request stream.
	QueueGroup = "grantdraft-ingest"
	// MaxRetries before a request goes to the DLQ.
	MaxRetries = 3
)

// Request asks for one document to be ingested, or removed when Delete is
// set. Path is relative to the consumer's root folder.
type Request struct {
	Path   string `json:"path"`
	Delete bool   `json:"delete,omitempty"`
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Request Request `json:"request"`
	Error   string  `json:"error"`
	Retries int     `json:"retries"`
}

// ConsumerOptions configures StartConsumer.
type ConsumerOptions struct {
	// Root is the folder request paths resolve against. Paths escaping it
	// are rejected.
	Root string
	// Timeout bounds one document; zero means no deadline.
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

// StartConsumer subscribes the pipeline to RequestSubject. Each request is
// answered on its reply subject when one is set and always published to
// ResultSubject. Transient failures are republished with an incremented
// retry header until MaxRetries, then sent to DLQSubject.
func StartConsumer(nc *nats.Conn, p *Pipeline, opts ConsumerOptions) (*nats.Subscription, error) {
	log := opts.Logger
	if log == nil {
		log = p.log
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = MaxRetries
	}

	handle := func(ctx context.Context, msg natsutil.Msg[Request]) {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		res := p.Handle(ctx, opts.Root, msg.Value)
		if msg.Reply != "" {
			if err := natsutil.Publish(ctx, nc, msg.Reply, res); err != nil {
				log.Error("ingest: reply failed", "err", err)
			}
		}
		if err := natsutil.Publish(ctx, nc, ResultSubject, res); err != nil {
			log.Error("ingest: result publish failed", "err", err)
		}
		if res.OK() || !transient(res.Err) {
			return
		}

		retries := msg.Retries() + 1
		log.Warn("ingest: request failed", "path", msg.Value.Path, "retry", retries, "err", res.Err)
		if retries >= maxRetries {
			dlq := dlqMessage{Request: msg.Value, Error: res.Reason, Retries: retries}
			if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
				log.Error("ingest: DLQ publish failed", "err", err)
			}
			return
		}
		h := nats.Header{}
		h.Set(natsutil.RetryHeader, strconv.Itoa(retries))
		if err := natsutil.PublishRaw(ctx, nc, RequestSubject, msg.Data, h); err != nil {
			log.Error("ingest: retry publish failed", "err", err)
		}
	}

	malformed := func(msg *nats.Msg, err error) {
		log.Error("ingest: malformed request", "err", err, "bytes", len(msg.Data))
	}
	return natsutil.QueueSubscribe(nc, RequestSubject, QueueGroup, handle, malformed)
}

// Handle serves one Request with paths resolved against root. Paths that
// escape root fail validation.
func (p *Pipeline) Handle(ctx context.Context, root string, req Request) Result {
	path, err := resolve(root, req.Path)
	if err != nil {
		return Result{
			Status:   StatusFailed,
			Filename: filepath.Base(req.Path),
			FailedAt: StateFailed,
			Reason:   err.Error(),
			Err:      err,
		}
	}
	if req.Delete {
		ns, err := p.DeleteDocument(ctx, path)
		r := Result{Status: StatusSuccess, Filename: domain.DocumentName(path), Namespace: ns}
		if err != nil {
			r.Status, r.FailedAt, r.Reason, r.Err = StatusFailed, StateUpserting, err.Error(), err
		}
		return r
	}
	if !p.Accepts(path) {
		err := &domain.ExtractionError{Document: filepath.Base(path), Err: fmt.Errorf("unsupported format %q", filepath.Ext(path))}
		return failure(document{Name: domain.DocumentName(path), Namespace: domain.Namespace(path)}, &stageError{State: StateExtracting, Err: err})
	}
	return p.ProcessDocument(ctx, path)
}

// resolve joins rel onto root and rejects paths that leave root.
func resolve(root, rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", domain.NewValidationError("path", rel, errors.New("path is required"))
	}
	if root == "" {
		return filepath.Clean(rel), nil
	}
	if filepath.IsAbs(rel) {
		return "", domain.NewValidationError("path", rel, errors.New("path must be relative"))
	}
	full := filepath.Join(root, rel)
	within, err := filepath.Rel(root, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", domain.NewValidationError("path", rel, errors.New("path escapes the document folder"))
	}
	return full, nil
}

// transient reports failures worth retrying: timeouts and embedding or
// store outages. Extraction failures and collisions never heal by retry.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if domain.IsTimeout(err) {
		return true
	}
	if errors.Is(err, domain.ErrNoValidChunks) {
		return true
	}
	var se *domain.StoreError
	var ee *domain.EmbeddingError
	return errors.As(err, &se) || errors.As(err, &ee)
}
