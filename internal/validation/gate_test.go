package validation

import (
	"strings"
	"testing"

	"github.com/FilPassOps/FilPass-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() domain.TransferRequestForm {
	return domain.TransferRequestForm{
		Amount:           " 150.25 ",
		Team:             "Research",
		FirstName:        "Ada",
		LastName:         "Lovelace",
		DateOfBirth:      "1990-12-10",
		CountryResidence: "pt",
		ProgramID:        3,
		WalletID:         9,
	}
}

func TestValidate_ReturnsNormalisedFields(t *testing.T) {
	form, errs := Validate(validForm())
	require.Nil(t, errs)
	assert.Equal(t, "150.25", form.Amount)
	assert.Equal(t, "PT", form.CountryResidence)
}

func TestValidate_CollectsEveryFailingField(t *testing.T) {
	form := validForm()
	form.Amount = "-3"
	form.Team = ""
	form.DateOfBirth = "10/12/1990"
	form.ProgramID = 0
	blank := "   "
	form.ExpectedTransferDate = &blank

	_, errs := Validate(form)
	require.NotNil(t, errs)

	assert.Equal(t, "must be a positive number", errs["amount"].Message)
	assert.Equal(t, "is required", errs["team"].Message)
	assert.Equal(t, "must be a date in YYYY-MM-DD format", errs["date_of_birth"].Message)
	assert.Contains(t, errs, "program_id")
	assert.NotContains(t, errs, "expected_transfer_date", "blank optional date is normalised to nil")
	assert.Len(t, errs, 4)
}

func TestValidate_NestedPathsForBatchItems(t *testing.T) {
	input := domain.BatchRejectInput{
		Requests: []domain.NotedReviewInput{
			{ID: "6f1c2a43-3e0f-4b6e-9f5b-0d8f3a3b7c11", Notes: "duplicate"},
			{ID: "not-a-uuid", Notes: "  "},
		},
	}

	_, errs := Validate(input)
	require.NotNil(t, errs)
	assert.Equal(t, "must be a valid identifier", errs["requests[1].id"].Message)
	assert.Equal(t, "is required", errs["requests[1].notes"].Message)
	assert.NotContains(t, errs, "requests[0].id")
}

func TestValidate_BatchBounds(t *testing.T) {
	ids := make([]string, domain.MaxBatchSize+1)
	for i := range ids {
		ids[i] = "6f1c2a43-3e0f-4b6e-9f5b-0d8f3a3b7c11"
	}

	_, errs := Validate(domain.BatchApproveInput{Requests: ids})
	require.NotNil(t, errs)
	assert.Equal(t, "must contain at most 50 items", errs["requests"].Message)

	_, errs = Validate(domain.BatchApproveInput{})
	require.NotNil(t, errs)
	assert.Equal(t, "is required", errs["requests"].Message)
}

func TestValidate_ReviewDiscriminator(t *testing.T) {
	_, errs := Validate(domain.CreateReviewInput{
		Status:             "paid",
		TransferRequestIDs: []string{"6f1c2a43-3e0f-4b6e-9f5b-0d8f3a3b7c11"},
	})
	require.NotNil(t, errs)
	assert.True(t, strings.HasPrefix(errs["status"].Message, "must be one of"))
}

func TestErrors_ErrorIsStable(t *testing.T) {
	errs := Errors{
		"team":   {Message: "is required"},
		"amount": {Message: "must be a positive number"},
	}
	assert.Equal(t, "validation failed: amount: must be a positive number; team: is required", errs.Error())
}
