package accessrequests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"patient-access/internal/domain/audit"
	"patient-access/internal/platform/clock"
	"patient-access/internal/platform/keylock"
	"patient-access/internal/platform/logger"
	"patient-access/internal/platform/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultStoreTimeout = 3 * time.Second
	forwardTimeout      = 5 * time.Second

	maxIdentityLen = 256
	maxPurposeLen  = 1024
)

// Service is the authorization engine. It owns every lifecycle rule; the
// store and the audit log only persist what it decides.
type Service struct {
	store Store
	audit audit.Reader
	tx    TxRunner

	locker    Locker
	clock     clock.Clock
	log       logger.Logger
	metrics   *metrics.Metrics
	forwarder audit.Forwarder
	tracer    trace.Tracer

	storeTimeout    time.Duration
	allowSelfAccess bool
	maxTTL          time.Duration
	admins          map[string]struct{}
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithLocker replaces the in-process key locks, e.g. with a distributed lock.
func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithLogger(l logger.Logger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithForwarder streams committed audit events. Forwarding is best effort.
func WithForwarder(f audit.Forwarder) Option { return func(s *Service) { s.forwarder = f } }

func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithSelfAccess lets a patient create a request for their own data that is
// approved on creation.
func WithSelfAccess(allow bool) Option { return func(s *Service) { s.allowSelfAccess = allow } }

// WithMaxTTL bounds the ttl accepted by CreateRequest. Zero means unbounded.
func WithMaxTTL(d time.Duration) Option { return func(s *Service) { s.maxTTL = d } }

// WithRevocationAdmins names principals allowed to revoke any request.
func WithRevocationAdmins(ids ...string) Option {
	return func(s *Service) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.admins[id] = struct{}{}
			}
		}
	}
}

func NewService(store Store, auditLog audit.Reader, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		store:        store,
		audit:        auditLog,
		tx:           tx,
		locker:       keylock.New(),
		clock:        clock.Real(),
		log:          logger.Nop(),
		tracer:       otel.Tracer("patient-access/accessrequests"),
		storeTimeout: DefaultStoreTimeout,
		admins:       map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the engine clock at the precision requests are stored with.
func (s *Service) Now() time.Time {
	return audit.Normalize(s.clock.Now())
}

type CreateInput struct {
	Requester string
	Patient   string
	DataType  string
	Purpose   string
	TTL       time.Duration
}

// CreateRequest opens a pending request for (requester, patient, dataType).
func (s *Service) CreateRequest(ctx context.Context, in CreateInput) (req AccessRequest, err error) {
	ctx, done := s.observe(ctx, "create")
	defer func() { done(err) }()

	requester := strings.TrimSpace(in.Requester)
	patient := strings.TrimSpace(in.Patient)
	dataType := strings.TrimSpace(in.DataType)
	purpose := strings.TrimSpace(in.Purpose)

	if !validIdentity(requester) || !validIdentity(patient) || !validIdentity(dataType) {
		return AccessRequest{}, ErrInvalidInput
	}
	if len(purpose) > maxPurposeLen {
		return AccessRequest{}, ErrInvalidInput
	}
	if in.TTL <= 0 || (s.maxTTL > 0 && in.TTL > s.maxTTL) {
		return AccessRequest{}, ErrInvalidInput
	}

	key := Key{Requester: requester, Patient: patient, DataType: dataType}
	selfApprove := s.allowSelfAccess && requester == patient

	events, err := s.mutate(ctx, "create:"+key.String(), func(ctx context.Context, store Store, log audit.Appender) error {
		if _, found, err := store.FindPendingDuplicate(ctx, key); err != nil {
			return err
		} else if found {
			return ErrDuplicatePending
		}

		now := s.Now()
		expiresAt := audit.Normalize(now.Add(in.TTL))
		if !expiresAt.After(now) {
			return ErrInvalidInput
		}

		r := AccessRequest{
			ID:        uuid.NewString(),
			Requester: requester,
			Patient:   patient,
			DataType:  dataType,
			Purpose:   purpose,
			Status:    StatusPending,
			CreatedAt: now,
			ExpiresAt: expiresAt,
			UpdatedAt: now,
			Version:   1,
		}
		if err := store.Put(ctx, r); err != nil {
			return err
		}
		pending := []audit.Event{newEvent(r, audit.EventCreated, requester, "", now)}

		if selfApprove {
			approved, err := r.transition(StatusApproved, now)
			if err != nil {
				return err
			}
			if err := store.Put(ctx, approved); err != nil {
				return err
			}
			pending = append(pending, newEvent(approved, audit.EventDecided, patient, StatusPending, now))
			r = approved
		}

		if _, err := log.Append(ctx, pending...); err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return AccessRequest{}, err
	}

	s.committed(ctx, events)
	s.log.Info("access request created", map[string]any{
		"request_id":   req.ID,
		"requester":    req.Requester,
		"patient":      req.Patient,
		"data_type":    req.DataType,
		"status":       string(req.Status),
		"expires_at":   req.ExpiresAt,
		"self_approve": selfApprove,
	})
	return req, nil
}

// Decide approves or denies a pending request on behalf of its patient.
func (s *Service) Decide(ctx context.Context, id, principal string, approve bool) (req AccessRequest, err error) {
	ctx, done := s.observe(ctx, "decide", attribute.String("request.id", id), attribute.Bool("approve", approve))
	defer func() { done(err) }()

	id = strings.TrimSpace(id)
	principal = strings.TrimSpace(principal)
	if id == "" || principal == "" {
		return AccessRequest{}, ErrInvalidInput
	}

	events, err := s.mutate(ctx, "request:"+id, func(ctx context.Context, store Store, log audit.Appender) error {
		r, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if principal != r.Patient {
			return ErrUnauthorized
		}
		if r.Status != StatusPending {
			return ErrAlreadyProcessed
		}
		now := s.Now()
		if r.Expired(now) {
			return ErrExpired
		}

		to := StatusDenied
		if approve {
			to = StatusApproved
		}
		next, err := r.transition(to, now)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, next); err != nil {
			return err
		}
		if _, err := log.Append(ctx, newEvent(next, audit.EventDecided, principal, r.Status, now)); err != nil {
			return err
		}
		req = next
		return nil
	})
	if err != nil {
		return AccessRequest{}, err
	}

	s.committed(ctx, events)
	s.log.Info("access request decided", map[string]any{
		"request_id": req.ID,
		"patient":    req.Patient,
		"outcome":    string(req.Status),
	})
	return req, nil
}

// Revoke withdraws an approval. Revoking an approved request past its expiry
// is allowed since its stored status is still approved.
func (s *Service) Revoke(ctx context.Context, id, principal string) (req AccessRequest, err error) {
	ctx, done := s.observe(ctx, "revoke", attribute.String("request.id", id))
	defer func() { done(err) }()

	id = strings.TrimSpace(id)
	principal = strings.TrimSpace(principal)
	if id == "" || principal == "" {
		return AccessRequest{}, ErrInvalidInput
	}

	events, err := s.mutate(ctx, "request:"+id, func(ctx context.Context, store Store, log audit.Appender) error {
		r, err := store.Get(ctx, id)
		if err != nil {
			return err
		}
		if principal != r.Patient && !s.isAdmin(principal) {
			return ErrUnauthorized
		}
		now := s.Now()
		next, err := r.transition(StatusRevoked, now)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, next); err != nil {
			return err
		}
		if _, err := log.Append(ctx, newEvent(next, audit.EventRevoked, principal, r.Status, now)); err != nil {
			return err
		}
		req = next
		return nil
	})
	if err != nil {
		return AccessRequest{}, err
	}

	s.committed(ctx, events)
	s.log.Info("access request revoked", map[string]any{
		"request_id": req.ID,
		"revoked_by": principal,
	})
	return req, nil
}

// CheckAuthorization is the only answer any disclosure path may rely on.
func (s *Service) CheckAuthorization(ctx context.Context, id string, now time.Time) (res AuthzResult, err error) {
	ctx, done := s.observe(ctx, "check", attribute.String("request.id", id))
	defer func() { done(err) }()

	r, err := s.get(ctx, id)
	if err != nil {
		return "", err
	}
	res = r.Authorization(now)
	s.metrics.IncCheck(string(res))
	return res, nil
}

// GetRequest returns a request to one of its parties or to an admin.
func (s *Service) GetRequest(ctx context.Context, id, principal string) (view RequestView, err error) {
	ctx, done := s.observe(ctx, "get", attribute.String("request.id", id))
	defer func() { done(err) }()

	r, err := s.get(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	if principal != r.Patient && principal != r.Requester && !s.isAdmin(principal) {
		return RequestView{}, ErrUnauthorized
	}
	return RequestView{AccessRequest: r, EffectiveStatus: r.EffectiveStatus(s.Now())}, nil
}

// ListRequests returns matching requests, newest first, each with its
// effective status at the engine clock.
func (s *Service) ListRequests(ctx context.Context, f Filter) (out []RequestView, err error) {
	ctx, done := s.observe(ctx, "list")
	defer func() { done(err) }()

	f.Patient = strings.TrimSpace(f.Patient)
	f.Requester = strings.TrimSpace(f.Requester)
	f.DataType = strings.TrimSpace(f.DataType)
	if f.Status != "" && !f.Status.Valid() {
		return nil, ErrInvalidInput
	}
	f.Limit = f.EffectiveLimit()

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	items, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, s.classify(err)
	}
	now := s.Now()
	out = make([]RequestView, 0, len(items))
	for _, r := range items {
		out = append(out, RequestView{AccessRequest: r, EffectiveStatus: r.EffectiveStatus(now)})
	}
	return out, nil
}

// AuditTrail returns the events of one request in append order.
func (s *Service) AuditTrail(ctx context.Context, id string) (events []audit.Event, err error) {
	ctx, done := s.observe(ctx, "audit_trail", attribute.String("request.id", id))
	defer func() { done(err) }()

	if _, err := s.get(ctx, id); err != nil {
		return nil, err
	}
	return s.queryAudit(ctx, audit.Query{RequestID: id, Limit: audit.MaxQueryLimit})
}

// AuditEvents queries the log by request id and/or time range.
func (s *Service) AuditEvents(ctx context.Context, q audit.Query) (events []audit.Event, err error) {
	ctx, done := s.observe(ctx, "audit_events")
	defer func() { done(err) }()

	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return nil, ErrInvalidInput
	}
	q.Limit = q.EffectiveLimit()
	return s.queryAudit(ctx, q)
}

// VerifyAuditTrail recomputes the hash chain of a request and returns the
// number of verified events.
func (s *Service) VerifyAuditTrail(ctx context.Context, id string) (int, error) {
	events, err := s.AuditTrail(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := audit.VerifyChain(events); err != nil {
		s.log.Error("audit chain verification failed", map[string]any{
			"request_id": id,
			"err":        err,
		})
		return 0, err
	}
	return len(events), nil
}

func (s *Service) get(ctx context.Context, id string) (AccessRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return AccessRequest{}, ErrInvalidInput
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return AccessRequest{}, s.classify(err)
	}
	return r, nil
}

func (s *Service) queryAudit(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	events, err := s.audit.Query(ctx, q)
	if err != nil {
		return nil, s.classify(err)
	}
	return events, nil
}

// mutate runs fn as one unit of work while holding the lock for key. The
// lock wait and the unit share the store timeout.
func (s *Service) mutate(ctx context.Context, key string, fn TxFunc) ([]audit.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: lock %q: %v", ErrStoreUnavailable, key, err)
	}
	defer unlock()

	events, err := s.tx.RunInTx(ctx, fn)
	if err != nil {
		return nil, s.classify(err)
	}
	return events, nil
}

// classify keeps domain errors as they are and folds infrastructure faults
// into ErrStoreUnavailable or ErrAuditFailure. A transient fault during the
// audit append stays retryable.
func (s *Service) classify(err error) error {
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return err
	case errors.Is(err, audit.ErrAppendFailed):
		s.log.Error("audit append failed, unit rolled back", map[string]any{"err": err})
		return fmt.Errorf("%w: %v", ErrAuditFailure, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	case Code(err) != "internal":
		return err
	default:
		s.log.Error("store failure", map[string]any{"err": err})
		return err
	}
}

// committed runs after a unit commits: metrics, then best-effort forwarding.
func (s *Service) committed(ctx context.Context, events []audit.Event) {
	for _, e := range events {
		s.metrics.IncTransition(string(e.Type), e.Outcome)
	}
	if s.forwarder == nil || len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), forwardTimeout)
	defer cancel()
	if err := s.forwarder.Forward(ctx, events); err != nil {
		s.metrics.IncForwardFailure()
		s.log.Warn("audit forwarding failed", map[string]any{
			"request_id": events[0].RequestID,
			"events":     len(events),
			"err":        err,
		})
	}
}

func (s *Service) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "accessrequests."+op, trace.WithAttributes(attrs...))
	start := s.clock.Now()
	return ctx, func(err error) {
		if err != nil {
			code := Code(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			s.metrics.IncError(op, code)
		}
		s.metrics.ObserveLatency(op, s.clock.Now().Sub(start))
		span.End()
	}
}

func (s *Service) isAdmin(principal string) bool {
	_, ok := s.admins[principal]
	return ok
}

func newEvent(r AccessRequest, typ audit.EventType, actor string, from Status, at time.Time) audit.Event {
	e := audit.Event{
		ID:         uuid.NewString(),
		RequestID:  r.ID,
		Type:       typ,
		Actor:      actor,
		Requester:  r.Requester,
		Patient:    r.Patient,
		DataType:   r.DataType,
		Purpose:    r.Purpose,
		FromStatus: string(from),
		ToStatus:   string(r.Status),
		At:         at,
		ExpiresAt:  r.ExpiresAt,
	}
	if typ == audit.EventDecided {
		e.Outcome = string(r.Status)
	}
	return e
}

// validIdentity accepts non-empty printable ids without the key separator.
func validIdentity(s string) bool {
	if s == "" || len(s) > maxIdentityLen {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
