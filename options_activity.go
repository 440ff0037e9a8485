package toolsync

import "github.com/goliatone/go-toolsync/pkg/activity"

// WithActivityHooks reports rejected identifiers as tool.conflict activity.
// Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *config) {
		cfg.activityHooks = normalized
	}
}

// WithActivityActor stamps conflict activity with actorID.
func WithActivityActor(actorID string) Option {
	return func(cfg *config) {
		cfg.activityActor = actorID
	}
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}
