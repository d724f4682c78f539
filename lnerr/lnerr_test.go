package lnerr_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/volta-protocol/voltgate/lnerr"
)

func TestCode(t *testing.T) {
	t.Parallel()

	invoiceErr := lnerr.InvoiceError{
		Code:      lnerr.CodePaymentFailed,
		InvoiceID: "inv_00000001",
		Err:       errors.New("invoice status is pending"),
	}
	assert.Equal(t, lnerr.CodePaymentFailed, lnerr.Code(invoiceErr))

	bridgeErr := lnerr.BridgeError{
		Code:     lnerr.CodeBridgeTimeout,
		BridgeID: "bridge_00000001",
		Err:      errors.New("gave up"),
	}
	assert.Equal(t, lnerr.CodeBridgeTimeout, lnerr.Code(bridgeErr))

	assert.Equal(t, lnerr.CodeInvalidAmount, lnerr.Code(lnerr.InvalidAmount("too big")))
	assert.Equal(t, "", lnerr.Code(errors.New("some foreign error")))
}

func TestCodeSurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := lnerr.BridgeError{
		Code: lnerr.CodeProviderError,
		Err:  errors.New("boom"),
	}
	wrapped := errors.Wrap(err, "could not execute bridge")
	assert.Equal(t, lnerr.CodeProviderError, lnerr.Code(wrapped))
}

func TestErrorMessagesCarryIds(t *testing.T) {
	t.Parallel()

	err := lnerr.InvoiceError{
		Code:      lnerr.CodeInvoiceNotFound,
		InvoiceID: "inv_00000042",
		Err:       errors.New("no such invoice"),
	}
	assert.Contains(t, err.Error(), "inv_00000042")
	assert.Contains(t, err.Error(), lnerr.CodeInvoiceNotFound)
}
