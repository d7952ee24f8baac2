package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"referral_engine/internal/metrics"
	"referral_engine/internal/model"
	"referral_engine/internal/notify"
	"referral_engine/internal/store"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrEmptyUserID           = errors.New("user id is required")
	ErrUserNotFound          = errors.New("user not found")
	ErrSelfReferral          = errors.New("a user cannot refer themselves")
	ErrAlreadyReferred       = errors.New("user was already referred by someone else")
	ErrInvalidRewardPolicy   = errors.New("invalid reward policy")
	ErrInvalidAmount         = errors.New("reward amount must be a non-negative number")
	ErrReferralCodeNotFound  = errors.New("referral code not found")
	ErrQuestNotFound         = errors.New("quest not found")
	ErrQuestInactive         = errors.New("quest is not active")
	ErrInvalidQuest          = errors.New("invalid quest definition")
	ErrDuplicateQuestTitle   = errors.New("an active quest with this title already exists")
	ErrQuestTitleRetired     = errors.New("a deactivated quest already uses this title, reactivate it instead")
	ErrInvalidIncrement      = errors.New("progress increment must be positive")
	ErrVerificationFailed    = errors.New("quest requirement not met")
	ErrMalformedVerification = errors.New("malformed verification")
	ErrInvalidDimension      = errors.New("unknown leaderboard dimension")
	ErrInvalidSampleSize     = errors.New("sample size must be positive")
	ErrReferralCodeExhausted = errors.New("could not allocate a unique referral code")
)

// Options carries the collaborators shared by every service.
type Options struct {
	Clock    clockwork.Clock
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	// DefaultQuests overrides the built-in catalog. A non-nil empty slice
	// disables catalog seeding.
	DefaultQuests []model.QuestDefinition
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Notifier == nil {
		o.Notifier = notify.Nop{}
	}
	if o.DefaultQuests == nil {
		o.DefaultQuests = DefaultQuests
	}
	return o
}

type Config struct {
	Reconcile           ReconcileConfig
	LeaderboardCacheTTL time.Duration
}

type Service struct {
	Users       *UserService
	Referrals   *ReferralTracker
	Quests      *QuestProgressEngine
	Reconciler  *Reconciler
	Leaderboard *LeaderboardRanker
}

func NewService(st store.Store, cfg Config, opts Options) *Service {
	users := NewUserService(st, opts)
	quests := NewQuestProgressEngine(st, users, opts)

	return &Service{
		Users:       users,
		Referrals:   NewReferralTracker(st, users, quests, opts),
		Quests:      quests,
		Reconciler:  NewReconciler(st, cfg.Reconcile, opts),
		Leaderboard: NewLeaderboardRanker(st, cfg.LeaderboardCacheTTL, opts),
	}
}

type UserServiceI interface {
	RegisterUser(ctx context.Context, userID, username string) (*model.UserAggregate, error)
	GetUser(ctx context.Context, userID string) (*model.UserAggregate, error)
	GetXP(ctx context.Context, userID string) (*model.XPRecord, error)
	ListReferrals(ctx context.Context, referrerID string) ([]*model.ReferralEvent, error)
	ResolveReferralCode(ctx context.Context, code string) (string, error)
	Touch(ctx context.Context, userID string) error
}

type ReferralServiceI interface {
	TrackReferral(ctx context.Context, referrerID, referredID string, policy model.RewardPolicy) (*TrackResult, error)
	TrackReferralByCode(ctx context.Context, code, referredID string, policy model.RewardPolicy) (*TrackResult, error)
	CompleteReferral(ctx context.Context, referredID string) (bool, error)
	ProcessReward(ctx context.Context, referredID string, amount float64) (bool, error)
}

type QuestServiceI interface {
	ListQuests(ctx context.Context, activeOnly bool) ([]*model.QuestDefinition, error)
	UserQuests(ctx context.Context, userID string) ([]*model.UserQuest, error)
	StartQuest(ctx context.Context, userID, questID string) (*model.QuestProgress, error)
	UpdateProgress(ctx context.Context, userID, questID string, increment int, v model.Verification) (*model.QuestProgress, error)
	CheckThresholdQuests(ctx context.Context, userID string) ([]*model.QuestProgress, error)
	CreateQuest(ctx context.Context, def model.QuestDefinition) (*model.QuestDefinition, error)
	SetQuestActive(ctx context.Context, questID string, active bool) (*model.QuestDefinition, error)
	EnsureQuestCatalogIntegrity(ctx context.Context) (*CatalogReport, error)
}

type ReconcileServiceI interface {
	Validate(ctx context.Context, sampleSize int) ([]Inconsistency, error)
	Reconcile(ctx context.Context, userID string) (*model.UserAggregate, error)
	BatchReconcile(ctx context.Context, userIDs []string) *BatchResult
	ListUserIDs(ctx context.Context) ([]string, error)
}

type LeaderboardServiceI interface {
	Rank(ctx context.Context, dim model.Dimension, limit int) ([]*model.LeaderboardEntry, error)
	UserRank(ctx context.Context, userID string, dim model.Dimension) (int, error)
	Invalidate()
}

// ThresholdChecker completes quests whose requirement is derived from the
// user's aggregate counters.
type ThresholdChecker interface {
	CheckThresholdQuests(ctx context.Context, userID string) ([]*model.QuestProgress, error)
}

var idNamespace = uuid.MustParse("6f1c2a9e-3b7d-5e4f-9a10-2c8d4e6b7f01")

func deterministicID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "|"))).String()
}

// ReferralID is the event id for a referrer/referred pair.
func ReferralID(referrerID, referredID string) string {
	return deterministicID("referral", referrerID, referredID)
}

func ProgressID(userID, questID string) string {
	return deterministicID("progress", userID, questID)
}

// QuestIDForTitle derives a quest id from its title so that concurrent
// inserts of the same catalog entry collapse into one document.
func QuestIDForTitle(title string) string {
	return deterministicID("quest", strings.ToLower(normalizeTitle(title)))
}

func normalizeTitle(title string) string {
	return strings.TrimSpace(title)
}

// getDoc loads and decodes a single document, returning store.ErrNotFound
// untouched.
func getDoc[T any](ctx context.Context, st store.Store, collection, id string) (*T, *store.Document, error) {
	doc, err := st.Get(ctx, collection, id)
	if err != nil {
		return nil, nil, err
	}

	var v T
	if err := doc.DataTo(&v); err != nil {
		return nil, nil, err
	}
	return &v, doc, nil
}
