package provider

import (
	"context"

	"permgate/internal/adapter/browser"
	"permgate/internal/domain"
)

// PIP passes when the probed browser supports picture-in-picture.
type PIP struct {
	probe browser.PIPProbe
}

// NewPIP wraps probe.
func NewPIP(probe browser.PIPProbe) *PIP { return &PIP{probe: probe} }

// Check implements domain.Provider.
func (p *PIP) Check(ctx context.Context) (domain.Verdict, error) {
	ok, err := p.probe.PictureInPictureEnabled(ctx)
	if err != nil {
		return domain.Verdict{}, err
	}
	return domain.Verdict{Pass: ok}, nil
}

var _ domain.Provider = (*PIP)(nil)
