package provider

import (
	"context"

	"permgate/internal/domain"
	"permgate/internal/usecase/permission"
)

// GrantChecker reports whether the host platform has granted a capability.
type GrantChecker interface {
	Contains(name string) (bool, error)
}

// PlatformQuery asks the platform whether name is granted and answers
// through settle from a separate goroutine, the way host permission
// APIs report.
func PlatformQuery(grants GrantChecker, name domain.PermissionName) permission.CallbackQuery {
	return func(ctx context.Context, settle permission.SettleFunc) {
		go func() {
			if ctx.Err() != nil {
				return
			}
			ok, err := grants.Contains(string(name))
			_ = settle(domain.Verdict{Pass: ok}, err)
		}()
	}
}
