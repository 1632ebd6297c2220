package domain

import "time"

// User is the identity record plus its entitlement snapshot.
// ActivePlan and PendingPlan are read copies of the Plan catalog, refreshed in
// the same transaction that rotates PlanHistory.
type User struct {
	UserID                 string        `json:"id" dynamodbav:"user_id"`
	Name                   string        `json:"name" dynamodbav:"name"`
	Email                  string        `json:"email" dynamodbav:"email"`
	Phone                  string        `json:"phoneNumber" dynamodbav:"phone"`
	PasswordHash           string        `json:"-" dynamodbav:"password_hash"`
	GovernmentIDType       string        `json:"governmentIdType,omitempty" dynamodbav:"government_id_type,omitempty"`
	GovernmentIDNumber     string        `json:"-" dynamodbav:"government_id_number,omitempty"`
	GovernmentDocumentURL  string        `json:"governmentDocumentUrl,omitempty" dynamodbav:"government_document_url,omitempty"`
	KYCVerified            bool          `json:"kycVerified" dynamodbav:"kyc_verified"`
	IsAdmin                bool          `json:"isAdmin" dynamodbav:"is_admin"`
	IsRegistrationComplete bool          `json:"isRegistrationComplete" dynamodbav:"is_registration_complete"`
	IsSubscribed           bool          `json:"isSubscribed" dynamodbav:"is_subscribed"`
	SubscriptionID         string        `json:"subscriptionId,omitempty" dynamodbav:"subscription_id,omitempty"`
	CurrentSessionID       string        `json:"-" dynamodbav:"current_session_id,omitempty"`
	PendingOrderID         string        `json:"-" dynamodbav:"pending_order_id,omitempty"`
	PendingOrderReceipt    string        `json:"-" dynamodbav:"pending_order_receipt,omitempty"`
	PendingOrderCreatedAt  *time.Time    `json:"-" dynamodbav:"pending_order_created_at,omitempty"`
	PendingPlan            *PlanSnapshot `json:"pendingPlan,omitempty" dynamodbav:"pending_plan,omitempty"`
	ActivePlan             *PlanSnapshot `json:"activePlan,omitempty" dynamodbav:"active_plan,omitempty"`
	ActivePlanHistoryID    string        `json:"-" dynamodbav:"active_plan_history_id,omitempty"`
	PaymentVerifiedAt      *time.Time    `json:"paymentVerifiedAt,omitempty" dynamodbav:"payment_verified_at,omitempty"`
	TermsAcceptedAt        time.Time     `json:"termsAcceptedAt" dynamodbav:"terms_accepted_at"`
	Version                int64         `json:"-" dynamodbav:"version"`
	CreatedAt              time.Time     `json:"created" dynamodbav:"created_at"`
	UpdatedAt              time.Time     `json:"updated" dynamodbav:"updated_at"`
}

// Roles returns the role names carried by the user record itself.
func (u *User) Roles() []string {
	if u.IsAdmin {
		return []string{RoleAdmin}
	}
	return []string{RoleUser}
}

type RegisterUserRequest struct {
	Name                  string `json:"name" validate:"required,max=100"`
	Email                 string `json:"email" validate:"required,email"`
	PhoneNumber           string `json:"phoneNumber" validate:"required,min=7,max=20"`
	Password              string `json:"password" validate:"required,min=6,max=72"`
	GovernmentIDType      string `json:"governmentIdType" validate:"required,max=50"`
	GovernmentIDNumber    string `json:"governmentIdNumber" validate:"required,max=100"`
	GovernmentDocumentURL string `json:"governmentDocumentUrl" validate:"omitempty,url,max=256"`
	AcceptTerms           bool   `json:"acceptTerms"`
}
