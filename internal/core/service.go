package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"rua/internal/blob"
	"rua/internal/infra/persistence/memory"
	"rua/pkg/domain"
)

// Notifier delivers applicant-facing notifications after a transition commits.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, domain.Notification) error { return nil }

// Policy holds registry-wide behaviour toggles.
type Policy struct {
	// StrictEvaluationSequence requires interviews to cover EvaluationSequence
	// tags in order without skipping.
	StrictEvaluationSequence bool
	EvaluationSequence       []string
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		EvaluationSequence: []string{
			"entrevista_inicial",
			"evaluacion_psicologica",
			"evaluacion_social",
			"visita_domiciliaria",
			"devolucion",
		},
	}
}

// Service exposes the registry operations. Every mutating call commits in a
// single store transaction. Document copies needed by a unification are
// staged before that commit and notifications are sent after it.
type Service struct {
	store    domain.PersistentStore
	log      zerolog.Logger
	metrics  MetricsRecorder
	tracer   Tracer
	blobs    blob.Store
	notifier Notifier
	policy   Policy
	validate *validator.Validate
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "core").Logger() }
}

// WithMetrics sets the metrics recorder; nil keeps the no-op recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer; nil keeps the no-op tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithBlobStore sets the document store.
func WithBlobStore(b blob.Store) Option {
	return func(s *Service) {
		if b != nil {
			s.blobs = b
		}
	}
}

// WithNotifier sets the notification publisher.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithPolicy replaces the default policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		log:      zerolog.Nop(),
		metrics:  noopMetrics{},
		tracer:   noopTracer{},
		blobs:    blob.NewMemory(),
		notifier: discardNotifier{},
		policy:   DefaultPolicy(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *domain.RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Blobs returns the document store.
func (s *Service) Blobs() blob.Store { return s.blobs }

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

type actorKey struct{}

// WithActor attaches the acting login to ctx.
func WithActor(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, actorKey{}, login)
}

// ActorFromContext returns the acting login stored by WithActor.
func ActorFromContext(ctx context.Context) string {
	login, _ := ctx.Value(actorKey{}).(string)
	return login
}

func actorOr(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return ActorFromContext(ctx)
}

// MutationOption adjusts a single mutating call.
type MutationOption func(*mutationConfig)

type mutationConfig struct {
	version *int64
}

// IfVersion rejects the call with a conflict unless the target record is
// still at version v.
func IfVersion(v int64) MutationOption {
	return func(c *mutationConfig) { c.version = &v }
}

func newMutationConfig(opts []MutationOption) mutationConfig {
	var cfg mutationConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c mutationConfig) check(entity domain.EntityType, id, current int64) error {
	if c.version == nil || *c.version == current {
		return nil
	}
	return domain.Conflict("%s %d was modified concurrently: version is %d, expected %d", entity, id, current, *c.version)
}

// effects carries work between a transaction and the code around it: merges
// staged before the transaction, plans it could not apply yet, and what to
// report once it commits.
type effects struct {
	notifications []domain.Notification
	staged        map[int64]*stagedMerge
	unstaged      []mergePlan
	unified       []unifiedMerge
}

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	defer func() {
		err = translateError(op, err)
		span.End(err)
		elapsed := time.Since(started)
		s.metrics.Observe(ctx, op, err == nil, elapsed)
		s.logOutcome(op, elapsed, err)
	}()
	return fn(ctx)
}

// mutate runs fn in one store transaction. When fn reaches a unification
// whose documents are not copied yet, the transaction is discarded, the
// copies are staged and fn runs again, so the request and the merge commit
// together or not at all.
func (s *Service) mutate(ctx context.Context, op string, fn func(tx domain.Transaction, fx *effects) error) (domain.Result, error) {
	var res domain.Result
	err := s.run(ctx, op, func(ctx context.Context) error {
		staged := make(map[int64]*stagedMerge)
		var fx effects
		for round := 1; ; round++ {
			var err error
			res, err = s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
				fx = effects{staged: staged}
				if err := fn(tx, &fx); err != nil {
					return err
				}
				if len(fx.unstaged) > 0 {
					return errMergeNotStaged
				}
				return nil
			})
			if errors.Is(err, errMergeNotStaged) && round < maxStagingRounds {
				if err = s.stageMerges(ctx, staged, fx.unstaged); err == nil {
					continue
				}
			}
			if err != nil {
				for _, st := range staged {
					s.releaseStaged(ctx, st)
				}
				if errors.Is(err, errMergeNotStaged) {
					return domain.Conflict("documents changed while the unification was being prepared; retry the request")
				}
				return err
			}
			break
		}
		s.finishMerges(ctx, staged, fx.unified)
		s.notify(ctx, fx.notifications)
		return nil
	})
	return res, err
}

func (s *Service) view(ctx context.Context, op string, fn func(v domain.TransactionView) error) error {
	return s.run(ctx, op, func(ctx context.Context) error {
		return s.store.View(ctx, fn)
	})
}

func (s *Service) notify(ctx context.Context, notifications []domain.Notification) {
	for _, n := range notifications {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.Warn().Err(err).Int64("project_id", n.ProjectID).Str("event", string(n.Event)).Msg("notification not delivered")
		}
	}
}

func (s *Service) logOutcome(op string, elapsed time.Duration, err error) {
	kind := domain.KindOf(err)
	switch kind {
	case "":
		s.log.Debug().Str("operation", op).Dur("duration", elapsed).Msg("operation completed")
	case domain.KindFatal:
		s.log.Error().Err(err).Str("operation", op).Dur("duration", elapsed).Msg("operation failed")
	default:
		s.log.Warn().Err(err).Str("operation", op).Str("kind", string(kind)).Msg("operation rejected")
	}
}

// translateError maps store and rule failures onto the domain taxonomy.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var rv domain.RuleViolationError
	if errors.As(err, &rv) {
		details := make([]string, 0, len(rv.Result.Violations))
		for _, v := range rv.Result.Violations {
			if v.Severity == domain.SeverityBlock {
				details = append(details, fmt.Sprintf("%s: %s", v.Rule, v.Message))
			}
		}
		return &domain.Error{Kind: domain.KindConflict, Message: "integrity rules rejected the change", Details: details, Err: rv}
	}
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Error{Kind: domain.KindNotFound, Message: "referenced record does not exist", Err: err}
	}
	return domain.Fatal(err, "%s failed", op)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("subregistro", func(fl validator.FieldLevel) bool {
		return domain.Subregistro(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("project_kind", func(fl validator.FieldLevel) bool {
		return domain.ProjectKind(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("project_source", func(fl validator.FieldLevel) bool {
		return domain.ProjectSource(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("document_field", func(fl validator.FieldLevel) bool {
		return domain.DocumentField(fl.Field().String()).Valid()
	})
	return v
}

// checkStruct validates input against its struct tags.
func (s *Service) checkStruct(what string, input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.Validationf("invalid %s", what).WithDetails(err.Error())
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		details = append(details, fmt.Sprintf("%s must satisfy %s", fe.Field(), fe.Tag()))
	}
	return domain.Validationf("invalid %s", what).WithDetails(details...)
}
