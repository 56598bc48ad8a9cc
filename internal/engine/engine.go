package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"designgate/internal/assess"
	"designgate/internal/config"
	"designgate/internal/consideration"
	"designgate/internal/domain"
	"designgate/internal/events"
	"designgate/internal/gate"
	"designgate/internal/guidance"
	"designgate/internal/repo"
	"designgate/internal/snapshot"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
	// Pool is the optional shared guidance pool served when callers do not
	// supply their own.
	Pool *guidance.Cache
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

// WithPool returns a copy of e serving pool through a memoizing cache sized
// from config.
func (e Engine) WithPool(pool []domain.GuidanceSource) (Engine, error) {
	c, err := guidance.NewCache(pool, e.Config.Guidance.CacheSize)
	if err != nil {
		return e, err
	}
	e.Pool = c
	e.log().Info("guidance pool loaded", zap.Int("sources", c.PoolSize()))
	return e, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// Unlocked reports whether phases[index] is accessible.
func (e Engine) Unlocked(phases []domain.Phase, index int) (bool, error) {
	ok, err := gate.IsUnlocked(phases, index)
	if err != nil {
		e.log().Debug("phase gate rejected index", zap.Int("index", index), zap.Int("phases", len(phases)))
		return false, err
	}
	return ok, nil
}

// Phases evaluates the gate for every phase and returns the current index.
func (e Engine) Phases(phases []domain.Phase) ([]gate.PhaseState, int) {
	return gate.States(phases), gate.Current(phases)
}

// Guidance resolves guidance for one question. A nil pool uses the shared
// pool when one is configured.
func (e Engine) Guidance(questionKey, domainContext string, pool []domain.GuidanceSource) []domain.GuidanceSource {
	if pool == nil && e.Pool != nil {
		return e.Pool.Resolve(questionKey, domainContext)
	}
	return guidance.Resolve(questionKey, domainContext, pool)
}

// Annotate attaches guidance to questions, with the same pool rules as Guidance.
func (e Engine) Annotate(questions []domain.Question, domainContext string, pool []domain.GuidanceSource) []domain.Question {
	if pool == nil && e.Pool != nil {
		return e.Pool.Annotate(questions, domainContext)
	}
	return guidance.Annotate(questions, domainContext, pool)
}

// Assess scores flags with the configured policy, or with policy when given.
func (e Engine) Assess(flags []domain.QuestionFlag, policy *assess.Policy) (domain.EthicalAssessment, error) {
	if policy == nil {
		p := e.Config.Policy()
		policy = &p
	}
	a, err := assess.Assess(flags, policy)
	if err != nil {
		return a, err
	}
	e.log().Debug("ethical assessment",
		zap.Float64("score", a.EthicalScore),
		zap.Int("flags", len(flags)),
		zap.Bool("threshold_met", a.ThresholdMet),
		zap.Bool("proceed", a.ProceedRecommendation))
	return a, nil
}

// AcknowledgeOptions are parameters for acknowledging a consideration.
type AcknowledgeOptions struct {
	ConsiderationID string
	ActorID         string
	Note            string
}

// Acknowledge records an acknowledgement and its event in one transaction.
func (e Engine) Acknowledge(ctx context.Context, opts AcknowledgeOptions) (domain.Acknowledgement, error) {
	if strings.TrimSpace(opts.ConsiderationID) == "" {
		return domain.Acknowledgement{}, errors.New("consideration id is required")
	}
	if strings.TrimSpace(opts.ActorID) == "" {
		return domain.Acknowledgement{}, errors.New("actor id is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Acknowledgement{}, err
	}
	defer tx.Rollback()

	a := domain.Acknowledgement{
		ID:              uuid.New().String(),
		ConsiderationID: opts.ConsiderationID,
		ActorID:         opts.ActorID,
		Note:            opts.Note,
		AcknowledgedAt:  e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.Acknowledge(ctx, tx, a); err != nil {
		return domain.Acknowledgement{}, err
	}
	stored, err := e.Repo.GetAcknowledgementTx(ctx, tx, opts.ConsiderationID)
	if err != nil {
		return domain.Acknowledgement{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeAcknowledged, "consideration", opts.ConsiderationID, opts.ActorID, events.EventPayload{
		"acknowledgement_id": stored.ID,
		"note":               opts.Note,
	}); err != nil {
		return domain.Acknowledgement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Acknowledgement{}, err
	}
	e.log().Info("consideration acknowledged", zap.String("consideration_id", opts.ConsiderationID), zap.String("actor_id", opts.ActorID))
	return stored, nil
}

// Unacknowledge clears an acknowledgement. Missing acknowledgements yield
// repo.ErrNotFound.
func (e Engine) Unacknowledge(ctx context.Context, considerationID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.Unacknowledge(ctx, tx, considerationID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeUnacknowledged, "consideration", considerationID, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().Info("consideration unacknowledged", zap.String("consideration_id", considerationID), zap.String("actor_id", actorID))
	return nil
}

// Considerations returns items with acknowledgement state read from the store.
func (e Engine) Considerations(ctx context.Context, items []domain.EthicalConsideration) ([]domain.EthicalConsideration, error) {
	acked, err := e.Repo.AcknowledgedSet(ctx, consideration.IDs(items))
	if err != nil {
		return nil, fmt.Errorf("read acknowledgements: %w", err)
	}
	return consideration.Apply(items, acked), nil
}

// Report is the full evaluation of a snapshot.
type Report struct {
	Phases            []gate.PhaseState             `json:"phases"`
	CurrentPhase      int                           `json:"current_phase"`
	Questions         []domain.Question             `json:"questions"`
	Assessment        domain.EthicalAssessment      `json:"assessment"`
	Considerations    []domain.EthicalConsideration `json:"considerations"`
	Pending           int                           `json:"pending_considerations"`
	PendingByPriority map[domain.Priority]int       `json:"pending_by_priority"`
}

// Evaluate runs every evaluator over s. Guidance comes from s.Guidance, or
// from the shared pool when the snapshot carries none.
func (e Engine) Evaluate(ctx context.Context, s snapshot.Snapshot) (Report, error) {
	if err := s.Validate(); err != nil {
		return Report{}, err
	}
	states, current := e.Phases(s.Phases)
	a, err := e.Assess(s.Flags, nil)
	if err != nil {
		return Report{}, err
	}
	items, err := e.Considerations(ctx, s.Considerations)
	if err != nil {
		return Report{}, err
	}
	pending := consideration.Pending(items)
	return Report{
		Phases:            states,
		CurrentPhase:      current,
		Questions:         e.Annotate(s.Questions, s.DomainContext, s.Guidance),
		Assessment:        a,
		Considerations:    items,
		Pending:           len(pending),
		PendingByPriority: consideration.CountByPriority(pending),
	}, nil
}

// Tail returns recent store events.
func (e Engine) Tail(ctx context.Context, limit int) ([]domain.Event, error) {
	return e.Events.Tail(ctx, limit)
}
