package triage

import (
	apperrors "github.com/medifusion/triage-api/pkg/errors"
)

// Precondition failures surfaced by the lifecycle engine. All are typed
// so the transport layer can map them without string matching.
var (
	ErrCaseNotFound       = apperrors.NotFound("case", nil)
	ErrNotCaseOwner       = apperrors.Authorization("case belongs to another patient")
	ErrNotAssignedDoctor  = apperrors.Authorization("not assigned to this case")
	ErrAlreadyAssigned    = apperrors.Conflict("case already assigned")
	ErrAlreadyReviewed    = apperrors.Conflict("case already reviewed, cannot submit again")
	ErrNoTestOrdered      = apperrors.Conflict("no test has been ordered for this case")
	ErrTestNotRecommended = apperrors.Conflict("test is not in recommended status")
	ErrNoSubjectMaterial  = apperrors.Validation("symptoms or an image are required", nil)
)
