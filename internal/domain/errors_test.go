package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Coordinator.Recheck", ErrUndefinedPermission, "camera")
	want := "Coordinator.Recheck: camera: undefined permission"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Probe.Evaluate", ErrProbeUnavailable, "")
	want := "Probe.Evaluate: capability probe unavailable"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Settle", ErrDoubleSettlement, "login")
	if !errors.Is(err, ErrDoubleSettlement) {
		t.Error("errors.Is should match ErrDoubleSettlement")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := fmt.Errorf("sweep: %w", NewDomainError("Provider.Check", ErrProviderFault, "pip"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Provider.Check" {
		t.Errorf("Op = %q, want %q", de.Op, "Provider.Check")
	}
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeUndefinedPermission, ErrorCodeOf(ErrUndefinedPermission))
	assert.Equal(t, CodeProviderFault, ErrorCodeOf(ErrProviderFault))
	assert.Equal(t, CodeRPCMethodNotFound, ErrorCodeOf(ErrRPCMethodNotFound))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Store.Load", ErrGrantStore, "grants.yaml")
	assert.Equal(t, CodeGrantStore, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrCookieParse)
	assert.Equal(t, CodeCookieParse, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_GatewayAuthPrefersSpecificCode(t *testing.T) {
	wrapped := fmt.Errorf("upgrade: %w", ErrGatewayAuthFailed)
	assert.Equal(t, CodeGatewayAuth, ErrorCodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, ErrAuthInvalid))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_Code(t *testing.T) {
	err := NewDomainError("Coordinator.Recheck", ErrUndefinedPermission, "camera")
	assert.Equal(t, CodeUndefinedPermission, err.Code())
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	assert.Equal(t, CodeUnknown, err.Code())
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("op", nil))
	err := WrapOp("Coordinator.Check", ErrTimeout)
	assert.EqualError(t, err, "Coordinator.Check: operation timed out")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPermissionMapClone(t *testing.T) {
	m := PermissionMap{PermissionLogin: {Pass: true}}
	c := m.Clone()
	c[PermissionLogin] = Verdict{Pass: false, Msg: "changed"}
	assert.True(t, m[PermissionLogin].Pass)
}
