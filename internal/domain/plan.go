package domain

// PlanType enumerates the subscription tiers.
type PlanType string

const (
	PlanFree PlanType = "free"
	PlanBase PlanType = "base"
	PlanPro  PlanType = "pro"
)

// PlanLimits are the static per-tier ceilings. The table is process-wide
// immutable configuration loaded once at startup; nothing mutates it.
type PlanLimits struct {
	MemberLimit    int `json:"member_limit"`
	CampaignLimit  int `json:"campaign_limit"`
	EmailsPerMonth int `json:"emails_per_month"`
}

var planTable = map[PlanType]PlanLimits{
	PlanFree: {MemberLimit: 50, CampaignLimit: 3, EmailsPerMonth: 100},
	PlanBase: {MemberLimit: 500, CampaignLimit: 20, EmailsPerMonth: 2000},
	PlanPro:  {MemberLimit: 5000, CampaignLimit: 100, EmailsPerMonth: 20000},
}

// LimitsFor returns the limits for a plan tier. Unknown tiers fall back to
// the free plan.
func LimitsFor(p PlanType) PlanLimits {
	if l, ok := planTable[p]; ok {
		return l
	}
	return planTable[PlanFree]
}

// LimitCheck is the result of a plan-limit comparison. No mutation happens
// here; enforcement is the caller's job.
type LimitCheck struct {
	Allowed   bool `json:"allowed"`
	Current   int  `json:"current"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
}

// NewLimitCheck compares (current + requested) against limit.
func NewLimitCheck(current, requested, limit int) LimitCheck {
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return LimitCheck{
		Allowed:   current+requested <= limit,
		Current:   current,
		Limit:     limit,
		Remaining: remaining,
	}
}
