package texture

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360/gpukit/budget"
	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/pkg/retry"
	"github.com/c360/gpukit/telemetry"
	"github.com/c360/gpukit/types"
)

// Config holds streaming service settings.
type Config struct {
	// Backend charges texture bytes against this backend's budget.
	Backend types.Backend
	// BankCapacity is the per-bank entry cap (default 64 for every bank).
	BankCapacity map[Bank]int
	// EvictionFraction of a full bank is evicted per bank switch,
	// rounded down (default 0.25).
	EvictionFraction float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig(backend types.Backend) Config {
	capacity := make(map[Bank]int, 4)
	for _, bank := range Banks() {
		capacity[bank] = 64
	}
	return Config{
		Backend:          backend,
		BankCapacity:     capacity,
		EvictionFraction: 0.25,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return err
	}
	for _, bank := range Banks() {
		if c.BankCapacity[bank] <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "texture", "Validate",
				fmt.Sprintf("bank %s needs a positive capacity", bank))
		}
	}
	if c.EvictionFraction <= 0 || c.EvictionFraction >= 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "texture", "Validate",
			"eviction fraction must be in (0, 1)")
	}
	return nil
}

// Service streams texture blobs in and out of banked storage under a
// memory budget.
type Service struct {
	cfg     Config
	tracker *budget.Tracker
	logger  *slog.Logger
	sink    telemetry.Sink
	now     func() time.Time

	mu           sync.Mutex
	banks        map[Bank]map[string]*Entry
	reservations map[string]*budget.Reservation

	hits      int64
	misses    int64
	evictions int64
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(s *Service) { s.sink = telemetry.OrNop(sink) }
}

// WithClock overrides the time source for deterministic eviction tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a texture streaming service.
func NewService(cfg Config, tracker *budget.Tracker, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "texture", "NewService", "nil budget tracker")
	}

	s := &Service{
		cfg:          cfg,
		tracker:      tracker,
		logger:       slog.Default(),
		sink:         telemetry.NopSink{},
		now:          time.Now,
		banks:        make(map[Bank]map[string]*Entry, 4),
		reservations: make(map[string]*budget.Reservation),
	}
	for _, bank := range Banks() {
		s.banks[bank] = make(map[string]*Entry)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StreamTexture stores a texture blob in a bank at the given LOD level.
// A full bank is bank-switched first; a budget rejection also triggers one
// bank switch on the target bank before the allocation is retried once.
func (s *Service) StreamTexture(ctx context.Context, id string, data []byte, bank Bank, level int, priority Priority) error {
	if id == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "texture", "StreamTexture", "texture id is required")
	}
	if len(data) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "texture", "StreamTexture", "empty texture payload")
	}
	if err := bank.Validate(); err != nil {
		return err
	}
	if err := priority.Validate(); err != nil {
		return err
	}
	if level != clampLevel(level) {
		return errors.WrapInvalid(errors.ErrInvalidData, "texture", "StreamTexture",
			fmt.Sprintf("level %d outside [%d, %d]", level, MinLevel, MaxLevel))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replacing an existing entry frees its bytes first.
	if existing, ok := s.banks[bank][id]; ok {
		s.dropLocked(existing)
	}
	if len(s.banks[bank]) >= s.cfg.BankCapacity[bank] {
		s.performBankSwitchLocked(bank)
	}

	switched := false
	reservation, err := retry.DoWithResult(ctx, retry.Once(), func() (*budget.Reservation, error) {
		r, err := s.tracker.TryAllocate(s.cfg.Backend, int64(len(data)))
		if err == nil {
			return r, nil
		}
		if !stderrors.Is(err, errors.ErrBudgetExceeded) {
			return nil, retry.NonRetryable(err)
		}
		if !switched {
			switched = true
			s.performBankSwitchLocked(bank)
		}
		return nil, err
	})
	if err != nil {
		return err
	}

	t := s.now()
	entry := &Entry{
		ID:             id,
		Bank:           bank,
		Level:          level,
		Priority:       priority,
		CreatedAt:      t,
		LastAccessedAt: t,
		data:           data,
	}
	s.banks[bank][id] = entry
	s.reservations[id] = reservation

	s.sink.Emit(ctx, "texture.stream", 0, true, map[string]any{
		"bank": string(bank), "level": level, "size_bytes": len(data),
	})
	return nil
}

// GetTexture fetches a texture by id, searching every bank. The access is
// recorded on the stored entry; when the requested level differs from the
// stored one the returned payload is a rescaled copy and the entry keeps
// its stored level.
func (s *Service) GetTexture(id string, requestedLevel int) ([]byte, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.findLocked(id)
	if entry == nil {
		s.misses++
		return nil, 0, errors.WrapInvalid(errors.ErrKeyNotFound, "texture", "GetTexture",
			fmt.Sprintf("texture %s not resident in any bank", id))
	}
	s.hits++
	entry.HitCount++
	entry.LastAccessedAt = s.now()

	level := clampLevel(requestedLevel)
	return Rescale(entry.data, entry.Level, level), level, nil
}

// GetOptimalLOD computes the level the entry should stream at, combining
// memory pressure, hit count and priority, clamped to [0,3]. The call
// counts as an access on the entry.
func (s *Service) GetOptimalLOD(id string) (int, error) {
	pressure := s.tracker.MemoryPressure(s.cfg.Backend)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.findLocked(id)
	if entry == nil {
		return 0, errors.WrapInvalid(errors.ErrKeyNotFound, "texture", "GetOptimalLOD",
			fmt.Sprintf("texture %s not resident in any bank", id))
	}
	entry.HitCount++
	entry.LastAccessedAt = s.now()

	level := MinLevel
	switch {
	case pressure > 0.8:
		level += 2
	case pressure > 0.6:
		level++
	}
	if entry.HitCount > 10 && level > MinLevel {
		level--
	}
	switch entry.Priority {
	case PriorityHigh:
		if level > MinLevel {
			level--
		}
	case PriorityLow:
		if level < MaxLevel {
			level++
		}
	}
	return clampLevel(level), nil
}

// Evict removes a texture by id from whichever bank holds it.
func (s *Service) Evict(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.findLocked(id)
	if entry == nil {
		return false
	}
	s.dropLocked(entry)
	return true
}

// findLocked searches banks in fixed order. Must be called with mu held.
func (s *Service) findLocked(id string) *Entry {
	for _, bank := range Banks() {
		if entry, ok := s.banks[bank][id]; ok {
			return entry
		}
	}
	return nil
}

// dropLocked removes an entry and releases its budget. Must be called with
// mu held.
func (s *Service) dropLocked(entry *Entry) {
	delete(s.banks[entry.Bank], entry.ID)
	if reservation, ok := s.reservations[entry.ID]; ok {
		delete(s.reservations, entry.ID)
		_ = reservation.Release()
	}
}

// performBankSwitchLocked evicts the lowest-priority quarter of a bank.
// Score is access count plus seconds since last access, lowest first, ties
// broken by oldest access. Must be called with mu held.
func (s *Service) performBankSwitchLocked(bank Bank) {
	entries := make([]*Entry, 0, len(s.banks[bank]))
	for _, entry := range s.banks[bank] {
		entries = append(entries, entry)
	}
	victims := int(float64(len(entries)) * s.cfg.EvictionFraction)
	if victims == 0 {
		return
	}

	now := s.now()
	sort.Slice(entries, func(i, j int) bool {
		si, sj := entries[i].evictionScore(now), entries[j].evictionScore(now)
		if si != sj {
			return si < sj
		}
		return entries[i].LastAccessedAt.Before(entries[j].LastAccessedAt)
	})

	for _, entry := range entries[:victims] {
		s.dropLocked(entry)
		s.evictions++
	}
	s.logger.Debug("bank switch evicted entries", "bank", bank, "evicted", victims)
}

// BankStats is a read-only per-bank snapshot.
type BankStats struct {
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
}

// ServiceStats is a read-only service snapshot.
type ServiceStats struct {
	Banks     map[Bank]BankStats `json:"banks"`
	Hits      int64              `json:"hits"`
	Misses    int64              `json:"misses"`
	Evictions int64              `json:"evictions"`
}

// GetStats returns a snapshot of service state. Safe to call from any
// goroutine.
func (s *Service) GetStats() ServiceStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	banks := make(map[Bank]BankStats, 4)
	for _, bank := range Banks() {
		stats := BankStats{Entries: len(s.banks[bank])}
		for _, entry := range s.banks[bank] {
			stats.SizeBytes += entry.SizeBytes()
		}
		banks[bank] = stats
	}
	return ServiceStats{
		Banks:     banks,
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

// Shutdown releases every stored texture's budget reservation.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bank := range Banks() {
		for _, entry := range s.banks[bank] {
			s.dropLocked(entry)
		}
		s.banks[bank] = make(map[string]*Entry)
	}
}
