package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

var (
	// ErrInProgress — запрос с тем же ключом ещё выполняется.
	ErrInProgress = errors.New("request with the same idempotency key is already processing")
	// ErrCorruptedRecord — сохранённый ответ нельзя воспроизвести.
	ErrCorruptedRecord = errors.New("idempotency record cannot be replayed")
)

// Response — ответ, который сохраняется под ключом и повторяется без повторного выполнения.
type Response struct {
	Status int
	Body   []byte
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Guard выполняет операцию не более одного раза на ключ.
// Повтор с тем же телом получает сохранённый ответ, а с другим телом получает ErrIdempotencyHashMismatch.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    domain.DefaultIdempotencyTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("component", "idempotency"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequestHash — отпечаток операции и тела запроса. JSON-тело приводится
// к каноничному виду, поэтому пробелы и порядок ключей не влияют на hash.
func RequestHash(operation string, body []byte) string {
	payload := body
	var decoded any
	if err := json.Unmarshal(body, &decoded); err == nil {
		if canonical, err := json.Marshal(decoded); err == nil {
			payload = canonical
		}
	}

	h := sha256.New()
	h.Write([]byte(operation))
	h.Write([]byte{':'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Do выполняет run под ключом key. replayed=true означает, что ответ взят из хранилища.
// Пустой ключ выполняет run без сохранения.
func (g *Guard) Do(key, operation string, body []byte, run func() Response) (resp Response, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return run(), false, nil
	}

	record, err := g.repo.CreateProcessing(key, RequestHash(operation, body), g.now().Add(g.ttl))
	if err != nil {
		resp, err = g.replay(record, err)
		return resp, err == nil, err
	}

	resp = run()
	g.store(key, resp)
	return resp, false, nil
}

func (g *Guard) replay(record domain.IdempotencyRecord, createErr error) (Response, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		return Response{}, fmt.Errorf("create idempotency record: %w", createErr)
	}

	switch record.Status {
	case domain.IdempotencyStatusProcessing:
		return Response{}, ErrInProgress
	case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
		if record.HTTPStatus < 100 || record.HTTPStatus > 599 {
			return Response{}, fmt.Errorf("%w: status %d", ErrCorruptedRecord, record.HTTPStatus)
		}
		return Response{Status: record.HTTPStatus, Body: append([]byte(nil), record.ResponseBody...)}, nil
	default:
		return Response{}, fmt.Errorf("%w: unknown status %q", ErrCorruptedRecord, record.Status)
	}
}

// store сохраняет ответ; ошибка хранилища только логируется, клиент уже получил результат.
func (g *Guard) store(key string, resp Response) {
	mark := g.repo.MarkDone
	if resp.Status >= http.StatusBadRequest {
		mark = g.repo.MarkFailed
	}
	if err := mark(key, resp.Body, resp.Status); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("Failed to store idempotent response")
	}
}
