package registry

import (
	"context"
	"sort"
	"time"

	"github.com/scorehub/scorehub/internal/constants"
	"github.com/scorehub/scorehub/internal/fingerprint"
	"github.com/scorehub/scorehub/internal/invocation"
	"github.com/scorehub/scorehub/internal/messages"
	"github.com/scorehub/scorehub/internal/metrics"
	"github.com/scorehub/scorehub/internal/serviceerrors"
	"github.com/scorehub/scorehub/pkg/api"
)

// DefaultWatchInterval applies when a watch request does not carry one.
const DefaultWatchInterval = 30 * time.Second

// watchEntry is one background poller. The loop goroutine owns the last-seen
// fingerprint; callers stop the loop through cancel and wait on done.
type watchEntry struct {
	source   string
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Watch starts polling a source for content changes, triggering a reload when
// its fingerprint moves. Watching an already watched source replaces the
// poller, adopting the new interval.
func (r *Registry) Watch(ic *invocation.Context, source string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	// The baseline is taken before Watch returns so that any change after
	// establishment is seen, however soon it lands.
	baseline, err := fingerprint.Of(source)
	if err != nil {
		ic.Logger.Warn("Watched source unreadable", constants.LOG_SOURCE, source, constants.LOG_ERROR, err.Error())
	}

	r.watchMu.Lock()
	if existing, ok := r.watches[source]; ok {
		existing.cancel()
		<-existing.done
	}
	ctx, cancel := context.WithCancel(context.Background())
	entry := &watchEntry{
		source:   source,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	r.watches[source] = entry
	r.watchMu.Unlock()

	go r.watchLoop(ctx, entry, baseline)
	ic.Logger.Info("Watch established", constants.LOG_SOURCE, source, "interval", interval.String())
	return nil
}

// Unwatch stops the poller for a source and waits for its loop to exit.
func (r *Registry) Unwatch(ic *invocation.Context, source string) error {
	r.watchMu.Lock()
	entry, ok := r.watches[source]
	if ok {
		delete(r.watches, source)
	}
	r.watchMu.Unlock()

	if !ok {
		return serviceerrors.NewServiceError(messages.WatchNotFound,
			"Source", source).WithStage(api.StageRegistry)
	}
	entry.cancel()
	<-entry.done
	ic.Logger.Info("Watch removed", constants.LOG_SOURCE, source)
	return nil
}

// Watched lists the active watches sorted by source.
func (r *Registry) Watched() []api.WatchInfo {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()

	infos := make([]api.WatchInfo, 0, len(r.watches))
	for _, entry := range r.watches {
		infos = append(infos, api.WatchInfo{
			Source:   entry.source,
			Interval: entry.interval.String(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Source < infos[j].Source })
	return infos
}

// Close stops every watch. Called on shutdown.
func (r *Registry) Close() {
	r.watchMu.Lock()
	entries := make([]*watchEntry, 0, len(r.watches))
	for _, entry := range r.watches {
		entries = append(entries, entry)
	}
	r.watches = map[string]*watchEntry{}
	r.watchMu.Unlock()

	for _, entry := range entries {
		entry.cancel()
		<-entry.done
	}
}

func (r *Registry) watchLoop(ctx context.Context, entry *watchEntry, last fingerprint.Info) {
	defer close(entry.done)

	ticker := time.NewTicker(entry.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := fingerprint.Of(entry.source)
			if err != nil {
				// A vanished or unreadable source keeps its registrations;
				// the next successful read decides whether a reload is due.
				continue
			}
			if current.Equal(last) {
				continue
			}
			ic := invocation.New(ctx, r.logger, "registry.watch_reload")
			if _, err := r.reload(ic, entry.source, api.RegistryEventWatchReload); err != nil {
				metrics.RegistryWatchErrors.Inc()
				ic.Logger.Error("Watch reload failed", constants.LOG_SOURCE, entry.source, constants.LOG_ERROR, err.Error())
			}
			// Record the attempted fingerprint even on failure so a broken
			// manifest is reported once, not on every tick.
			last = current
		}
	}
}
