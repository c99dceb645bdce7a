package main

import (
	"fmt"
	"log/slog"

	"permgate/internal/domain"
	"permgate/internal/infra/config"
	"permgate/internal/usecase/permission"
	"permgate/internal/usecase/scheduling"
)

// initScheduler registers the configured rechecks. The caller starts it.
func initScheduler(schedules []config.ScheduleConfig, coord *permission.Coordinator, log *slog.Logger) (*scheduling.Scheduler, error) {
	s := scheduling.NewScheduler(log)
	scheduling.RegisterRecheckActions(s, coord, coord.Catalogue().Names())

	for _, sc := range schedules {
		perms := make([]domain.PermissionName, 0, len(sc.Permissions))
		for _, p := range sc.Permissions {
			perms = append(perms, domain.PermissionName(p))
		}
		err := s.AddTask(scheduling.ScheduledTask{
			Name:        sc.Name,
			Schedule:    sc.Schedule,
			Action:      scheduling.ScheduledAction(sc.Action),
			Permissions: perms,
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", sc.Name, err)
		}
	}
	return s, nil
}
