package session

// Params are the sampling parameters sent with a completion request.
type Params struct {
	Model            string  `json:"model"`
	Temperature      float32 `json:"temperature"`
	TopP             float32 `json:"top_p"`
	MaxTokens        int     `json:"max_tokens"`
	PresencePenalty  float32 `json:"presence_penalty"`
	FrequencyPenalty float32 `json:"frequency_penalty"`
}

// Overrides are per-user sampling overrides layered on top of the global
// defaults. Nil fields leave the default in effect.
type Overrides struct {
	Temperature *float32
	TopP        *float32
}

// ApplyOverrides merges non-nil fields into the session's override set.
func (s *Session) ApplyOverrides(o Overrides) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Temperature != nil {
		s.overrides.Temperature = o.Temperature
	}
	if o.TopP != nil {
		s.overrides.TopP = o.TopP
	}
}

// effectiveLocked layers the session's overrides onto a copy of the given
// defaults. Callers must hold s.mu.
func (s *Session) effectiveLocked(defaults Params) Params {
	p := defaults
	if s.overrides.Temperature != nil {
		p.Temperature = *s.overrides.Temperature
	}
	if s.overrides.TopP != nil {
		p.TopP = *s.overrides.TopP
	}
	return p
}

// Effective returns the session's parameters: the given defaults with the
// per-user overrides applied. The result is a copy; mutating it does not
// touch shared state.
func (s *Session) Effective(defaults Params) Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked(defaults)
}

// SaveRerollSnapshot captures the effective temperature and top-p before a
// reroll boosts them. At most one snapshot may be outstanding per session.
func (s *Session) SaveRerollSnapshot(defaults Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rerollSnapshot != nil {
		return ErrSnapshotHeld
	}
	eff := s.effectiveLocked(defaults)
	s.rerollSnapshot = &paramSnapshot{temperature: eff.Temperature, topP: eff.TopP}
	return nil
}

// RestoreRerollSnapshot writes the snapshot values back into the per-user
// overrides and clears the snapshot. A no-op when none is held.
func (s *Session) RestoreRerollSnapshot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rerollSnapshot == nil {
		return
	}
	t, p := s.rerollSnapshot.temperature, s.rerollSnapshot.topP
	s.overrides.Temperature = &t
	s.overrides.TopP = &p
	s.rerollSnapshot = nil
}
