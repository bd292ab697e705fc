package engine

import (
	"time"

	"github.com/google/uuid"

	"hostguard/internal/schedule"
)

// Status is the engine state exposed to the web/service layers.
type Status struct {
	ProtectionEnabled     bool       `json:"protection_enabled"`
	LastReconcile         time.Time  `json:"last_reconcile"`
	Drift                 DriftState `json:"drift"`
	PersistentTamperAlert bool       `json:"persistent_tamper_alert"`
	LastError             string     `json:"last_error,omitempty"`
	BlockedDomainCount    int        `json:"blocked_domain_count"`
}

// GetStatus reports the engine's current state.
func (e *Engine) GetStatus() Status {
	drift, alert := e.watchdog.State()

	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{
		ProtectionEnabled:     e.pol.ProtectionEnabled,
		LastReconcile:         e.lastReconcile,
		Drift:                 drift,
		PersistentTamperAlert: alert,
		LastError:             e.lastError,
		BlockedDomainCount:    e.matcher.Size(),
	}
}

// SetProtectionEnabled toggles whether the loop applies blocking at all.
// The emergency override for parents locked out by their own policy.
func (e *Engine) SetProtectionEnabled(enabled bool) error {
	e.mu.Lock()
	e.pol.ProtectionEnabled = enabled
	err := e.saveLocked(time.Now())
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()
	return nil
}

// UpsertDomain adds a manually blocked domain.
func (e *Engine) UpsertDomain(domain string) error {
	e.mu.Lock()
	_, err := e.pol.AddDomain(domain)
	if err == nil {
		err = e.saveLocked(time.Now())
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()
	return nil
}

// RemoveDomain removes a manually blocked domain.
func (e *Engine) RemoveDomain(domain string) error {
	e.mu.Lock()
	_, err := e.pol.RemoveDomain(domain)
	if err == nil {
		err = e.saveLocked(time.Now())
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()
	return nil
}

// SetCategoryEnabled toggles a blacklist category. Disabling is the
// removal path for categories; their contents are retained for
// re-enabling.
func (e *Engine) SetCategoryEnabled(name string, enabled bool) error {
	e.mu.Lock()
	e.pol.SetCategoryEnabled(name, enabled)
	err := e.saveLocked(time.Now())
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()
	return nil
}

// UpsertSchedule adds or replaces a blocking schedule and returns its ID.
func (e *Engine) UpsertSchedule(s schedule.Schedule) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	e.mu.Lock()
	replaced := false
	for i := range e.pol.Schedules {
		if e.pol.Schedules[i].ID == s.ID {
			e.pol.Schedules[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		e.pol.Schedules = append(e.pol.Schedules, s)
	}
	err := e.saveLocked(time.Now())
	e.mu.Unlock()
	if err != nil {
		return "", err
	}
	e.notify()
	return s.ID, nil
}

// RemoveSchedule deletes a schedule by ID. Unknown IDs are a no-op.
func (e *Engine) RemoveSchedule(id string) error {
	e.mu.Lock()
	for i := range e.pol.Schedules {
		if e.pol.Schedules[i].ID == id {
			e.pol.Schedules = append(e.pol.Schedules[:i], e.pol.Schedules[i+1:]...)
			break
		}
	}
	err := e.saveLocked(time.Now())
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.notify()
	return nil
}

// GrantTemporaryException lets a domain through for the given number of
// minutes, overriding any block for exactly that domain. Blocking
// resumes automatically after expiry.
func (e *Engine) GrantTemporaryException(domain string, durationMinutes int) error {
	now := time.Now()
	expiry := now.Add(time.Duration(durationMinutes) * time.Minute)

	if err := e.matcher.GrantException(domain, expiry); err != nil {
		return err
	}

	e.mu.Lock()
	_, err := e.pol.AddException(domain, expiry)
	if err == nil {
		err = e.store.Save(e.pol)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.notify()
	return nil
}

// GetUsage returns accumulated blocked minutes for a usage day
// ("2006-01-02").
func (e *Engine) GetUsage(date string) int {
	return e.usage.Minutes(date)
}

// IsBlocked answers whether a domain is blocked right now.
func (e *Engine) IsBlocked(domain string) bool {
	return e.matcher.IsBlocked(domain, time.Now())
}
