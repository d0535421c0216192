package scheduler

// Snapshot returns the loop and per-source status.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		Tick:     s.tick,
		Workers:  s.cfg.Workers,
		Ticks:    s.ticks,
		LastTick: s.lastTick,
		LastAt:   s.lastAt,
		Sources:  make([]SourceStatus, 0, len(s.runs)),
	}
	for _, r := range s.runs {
		out.Sources = append(out.Sources, SourceStatus{
			Key:                 r.src.Key,
			Kind:                r.src.Adapter.Kind(),
			Schedule:            r.src.Schedule,
			Policy:              string(r.src.Policy.Kind),
			Phase:               r.phase,
			NextDue:             r.nextDue,
			LastPoll:            r.lastPoll,
			LastSuccess:         r.lastSuccess,
			LastError:           r.lastErr,
			LastErrorAt:         r.lastErrAt,
			ConsecutiveFailures: r.failures,
			Polls:               r.polls,
			Records:             r.records,
			Notifications:       r.notifications,
			DispatchFailures:    r.dispatchFailures,
			DroppedKeyless:      r.droppedKeyless,
			LoginSkips:          r.loginSkips,
			RequiresLogin:       r.sess != nil,
			LoggedIn:            r.loggedIn,
			LoggedInAs:          r.loggedInAs,
			LoginRetryAt:        r.retryAt,
		})
	}
	return out
}

// Sources returns the configured source keys in order.
func (s *Service) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.runs))
	for _, r := range s.runs {
		keys = append(keys, r.src.Key)
	}
	return keys
}
