package domain

import "errors"

var (
	ErrNotFound           = errors.New("subscription_not_found")
	ErrInvalidPlan        = errors.New("invalid_plan")
	ErrPlanNotHigher      = errors.New("target_plan_not_higher")
	ErrPlanNotLower       = errors.New("target_plan_not_lower")
	ErrDowngradeToBasis   = errors.New("downgrade_to_basis_not_allowed")
	ErrNotLinked          = errors.New("no_external_subscription")
	ErrNoScheduledChange  = errors.New("no_scheduled_plan_change")
	ErrNoDisputeToClear   = errors.New("no_dispute_banner_to_clear")
	ErrNoRefundToClear    = errors.New("no_refund_banner_to_clear")
	ErrAlreadySubscribed  = errors.New("subscription_already_exists")
	ErrMissingPaymentInfo = errors.New("missing_payment_method")
)
