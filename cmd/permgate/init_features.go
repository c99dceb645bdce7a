package main

import (
	"context"
	"log/slog"

	"permgate/internal/domain"
	"permgate/internal/infra/config"
	"permgate/internal/usecase/permission"
	"permgate/pkg/featuresdk"
)

// buildFeatures turns configured feature declarations into features that
// log every permission change they receive.
func buildFeatures(decls []config.FeatureConfig, log *slog.Logger) []*featuresdk.BaseFeature {
	out := make([]*featuresdk.BaseFeature, 0, len(decls))
	for _, d := range decls {
		perms := make([]domain.PermissionName, len(d.Permissions))
		for i, p := range d.Permissions {
			perms[i] = domain.PermissionName(p)
		}
		flog := log.With("feature", d.Name)
		out = append(out, featuresdk.NewBaseFeature(d.Name, perms,
			featuresdk.OnChange(func(name domain.PermissionName, value bool) {
				flog.Info("feature permission changed", "permission", name, "value", value)
			}),
		))
	}
	return out
}

// loadFeatures registers every feature and logs its eligibility.
func loadFeatures(ctx context.Context, coord *permission.Coordinator, features []*featuresdk.BaseFeature, log *slog.Logger) (map[string]domain.EligibilityResult, error) {
	results := make(map[string]domain.EligibilityResult, len(features))
	for _, f := range features {
		res, err := coord.Load(ctx, f)
		if err != nil {
			return results, err
		}
		results[f.Name()] = res
		log.Info("feature loaded", "feature", f.Name(), "pass", res.Pass, "failing", len(res.Data))
	}
	return results, nil
}
