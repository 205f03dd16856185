package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role constants
const (
	RoleStudent    = "student"
	RoleAdmin      = "admin"
	RoleHeadmaster = "headmaster"
)

// Caller is the authenticated identity extracted from the platform JWT.
// Identity issuance lives elsewhere in the platform; this service only
// verifies tokens and consumes the scope they carry.
type Caller struct {
	UserID   string
	Roles    []string
	SchoolID string
}

// HasRole checks if the caller has a specific role
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ShulePayClaims represents the platform's JWT claims
type ShulePayClaims struct {
	UserID   string   `json:"user_id"`
	Roles    []string `json:"roles"`
	SchoolID string   `json:"school_id"`
	jwt.RegisteredClaims
}

// ReviewPolicy decides whether a caller may review a payment proof.
// Evaluated once per operation instead of scattering role checks.
type ReviewPolicy interface {
	CanReviewProof(caller Caller, invoice *Invoice) bool
}

// SchoolScopedReviewPolicy allows admins and headmasters to review proofs
// for invoices owned within their own institution
type SchoolScopedReviewPolicy struct{}

func (SchoolScopedReviewPolicy) CanReviewProof(caller Caller, invoice *Invoice) bool {
	if invoice == nil {
		return false
	}
	if !caller.HasRole(RoleAdmin) && !caller.HasRole(RoleHeadmaster) {
		return false
	}
	return caller.SchoolID != "" && caller.SchoolID == invoice.SchoolID
}
