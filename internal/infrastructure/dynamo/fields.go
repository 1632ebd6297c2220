package dynamo

// DynamoDB attribute names used in update and condition expressions.
const (
	fieldUserID                = "user_id"
	fieldVersion               = "version"
	fieldUpdatedAt             = "updated_at"
	fieldPasswordHash          = "password_hash"
	fieldCurrentSessionID      = "current_session_id"
	fieldPendingOrderID        = "pending_order_id"
	fieldPendingOrderReceipt   = "pending_order_receipt"
	fieldPendingOrderCreatedAt = "pending_order_created_at"
	fieldPendingPlan           = "pending_plan"
	fieldActivePlan            = "active_plan"
	fieldActivePlanHistoryID   = "active_plan_history_id"
	fieldIsSubscribed          = "is_subscribed"
	fieldSubscriptionID        = "subscription_id"
	fieldRegistrationComplete  = "is_registration_complete"
	fieldPaymentVerifiedAt     = "payment_verified_at"

	fieldToken             = "token"
	fieldIsActive          = "is_active"
	fieldTerminatedBy      = "terminated_by"
	fieldEndedAt           = "ended_at"
	fieldLastSeenAt        = "last_seen_at"
	fieldLastSeenIPAddress = "last_seen_ip_address"

	fieldChallengeID  = "challenge_id"
	fieldConsumed     = "consumed"
	fieldAttemptCount = "attempt_count"
	fieldCurrent      = "current_challenge_id"

	fieldTokenID    = "token_id"
	fieldConsumedAt = "consumed_at"

	fieldPlanID      = "plan_id"
	fieldHistoryID   = "history_id"
	fieldStatus      = "status"
	fieldCancelledAt = "cancelled_at"
	fieldInvoiceID   = "invoice_id"
	fieldIssuedAt    = "issued_at"
)

// Key prefixes for uniqueness guard rows stored in the users table.
const (
	guardEmailPrefix = "email#"
	guardPhonePrefix = "phone#"
)

// headKey is the OTP table row that points at the current challenge of a
// (user, purpose) pair.
func headKey(userID, purpose string) string {
	return "head#" + userID + "#" + purpose
}
