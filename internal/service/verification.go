package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"referral_engine/internal/errs"
	"referral_engine/internal/model"
)

type verifyFunc func(ctx context.Context, e *QuestProgressEngine, userID string, quest *model.QuestDefinition, v model.Verification) error

var verifiers = map[model.RequirementType]verifyFunc{
	model.RequirementReferFriends:   verifyReferFriends,
	model.RequirementConnectAccount: verifyConnectAccount,
	model.RequirementShare:          verifyShare,
	model.RequirementPlayMinigame:   verifyPlayMinigame,
	model.RequirementLoginStreak:    verifyLoginStreak,
	model.RequirementAttendEvent:    verifyAttendEvent,
}

// verify checks that v is the variant the quest expects and that its
// predicate holds.
func (e *QuestProgressEngine) verify(ctx context.Context, userID string, quest *model.QuestDefinition, v model.Verification) error {
	if v == nil {
		return malformed("no verification supplied for %s quest", quest.RequirementType)
	}
	if v.RequirementType() != quest.RequirementType {
		return malformed("%s verification submitted for %s quest", v.RequirementType(), quest.RequirementType)
	}

	check, ok := verifiers[quest.RequirementType]
	if !ok {
		return malformed("unsupported requirement type %q", quest.RequirementType)
	}
	return check(ctx, e, userID, quest, v)
}

func malformed(format string, args ...any) error {
	return errs.Validation(fmt.Errorf("%w: %s", ErrMalformedVerification, fmt.Sprintf(format, args...)))
}

func unmet(format string, args ...any) error {
	return errs.Validation(fmt.Errorf("%w: %s", ErrVerificationFailed, fmt.Sprintf(format, args...)))
}

func verifyReferFriends(ctx context.Context, e *QuestProgressEngine, userID string, quest *model.QuestDefinition, v model.Verification) error {
	rv, ok := v.(model.ReferFriendsVerification)
	if !ok {
		return malformed("unexpected %T", v)
	}

	var total int
	if rv.Auto && rv.TotalReferrals != nil {
		total = *rv.TotalReferrals
	} else {
		user, err := e.users.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		total = user.TotalReferrals
	}

	if total < quest.RequiredCount {
		return unmet("%d of %d referrals", total, quest.RequiredCount)
	}
	return nil
}

func verifyConnectAccount(_ context.Context, _ *QuestProgressEngine, _ string, _ *model.QuestDefinition, v model.Verification) error {
	cv, ok := v.(model.ConnectAccountVerification)
	if !ok {
		return malformed("unexpected %T", v)
	}
	if strings.TrimSpace(cv.Provider) == "" || strings.TrimSpace(cv.AccountID) == "" {
		return malformed("provider and account id are required")
	}
	return nil
}

func verifyShare(_ context.Context, _ *QuestProgressEngine, _ string, _ *model.QuestDefinition, v model.Verification) error {
	sv, ok := v.(model.ShareVerification)
	if !ok {
		return malformed("unexpected %T", v)
	}
	if strings.TrimSpace(sv.URL) == "" {
		return malformed("share url is required")
	}

	u, err := url.Parse(sv.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return unmet("share url %q is not a public link", sv.URL)
	}
	return nil
}

func verifyPlayMinigame(_ context.Context, _ *QuestProgressEngine, _ string, _ *model.QuestDefinition, v model.Verification) error {
	pv, ok := v.(model.PlayMinigameVerification)
	if !ok {
		return malformed("unexpected %T", v)
	}
	if strings.TrimSpace(pv.GameID) == "" {
		return malformed("game id is required")
	}
	if pv.Score <= 0 {
		return unmet("score %d does not count as a played game", pv.Score)
	}
	return nil
}

func verifyLoginStreak(_ context.Context, _ *QuestProgressEngine, _ string, _ *model.QuestDefinition, v model.Verification) error {
	lv, ok := v.(model.LoginStreakVerification)
	if !ok {
		return malformed("unexpected %T", v)
	}
	if lv.Days < 1 {
		return unmet("streak of %d days", lv.Days)
	}
	return nil
}

func verifyAttendEvent(_ context.Context, _ *QuestProgressEngine, _ string, _ *model.QuestDefinition, v model.Verification) error {
	av, ok := v.(model.AttendEventVerification)
	if !ok {
		return malformed("unexpected %T", v)
	}
	if strings.TrimSpace(av.EventID) == "" || strings.TrimSpace(av.CheckInCode) == "" {
		return malformed("event id and check-in code are required")
	}
	return nil
}
