// Package tunnel implements the ingestion and routing engine. Batches of
// suggestions arrive tagged with a channel, pass through the two-stage
// critical filter, and survivors are grouped into bins that get forwarded
// to registered downstream callbacks.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"critgate/internal/triage"
)

// ErrChannelNotFound is returned when an ingestion names an unknown channel.
var ErrChannelNotFound = errors.New("channel not found")

// Ingestion result statuses.
const (
	StatusSuccess          = "success"
	StatusNoCriticalIssues = "no_critical_issues"
)

// ForwardFunc is a downstream callback invoked with a forwarded bin. The
// return value is only logged; a failing callback never rolls back a bin.
type ForwardFunc func(bin triage.Bin) error

// Result summarizes one ingestion call.
type Result struct {
	Status        string `json:"status"`
	ChannelID     string `json:"channel_id"`
	BinID         string `json:"bin_id,omitempty"`
	CriticalCount int    `json:"critical_count"`
	FilteredOut   int    `json:"filtered_out"`
}

// Stats is the aggregate view over the tunnel registries.
type Stats struct {
	Channels            int   `json:"channels"`
	Bins                int   `json:"bins"`
	ActiveBins          int   `json:"active_bins"`
	TotalSuggestions    int64 `json:"total_suggestions"`
	CriticalSuggestions int64 `json:"critical_suggestions"`
}

// Tunnel owns the channel and bin registries for the process lifetime.
// The registries are guarded by a single mutex: one writer at a time, so
// concurrent ingestions to the same named bin cannot lose suggestions.
type Tunnel struct {
	filter *triage.CriticalFilter
	log    *zap.Logger

	mu           sync.Mutex
	channels     map[string]triage.Channel
	channelOrder []string
	bins         map[string]*triage.Bin
	binOrder     []string
	openNamed    map[string]string // channelID+"\x00"+binName -> bin id
	pending      map[string]int    // in-flight ingestions per named bin key
	callbacks    []ForwardFunc

	totalSuggestions    int64
	criticalSuggestions int64
}

// New creates a tunnel with the three default channels seeded.
func New(filter *triage.CriticalFilter, log *zap.Logger) *Tunnel {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Tunnel{
		filter:    filter,
		log:       log,
		channels:  make(map[string]triage.Channel),
		bins:      make(map[string]*triage.Bin),
		openNamed: make(map[string]string),
		pending:   make(map[string]int),
	}

	t.seedChannel(triage.Channel{
		ID:          "general",
		Name:        "General",
		Description: "Default channel for all critical suggestions",
	})
	t.seedChannel(triage.Channel{
		ID:          "security",
		Name:        "Security",
		Description: "Security vulnerabilities only",
		FilterCriteria: map[string]string{
			"type":         string(triage.TypeSecurityVulnerability),
			"min_severity": string(triage.SeverityHigh),
		},
	})
	t.seedChannel(triage.Channel{
		ID:          "runtime",
		Name:        "Runtime Errors",
		Description: "Runtime errors only",
		FilterCriteria: map[string]string{
			"type": string(triage.TypeRuntimeError),
		},
	})
	return t
}

func (t *Tunnel) seedChannel(ch triage.Channel) {
	t.channels[ch.ID] = ch
	t.channelOrder = append(t.channelOrder, ch.ID)
}

// RegisterForward appends a downstream callback. Callbacks for a bin are
// invoked in registration order.
func (t *Tunnel) RegisterForward(fn ForwardFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, fn)
}

func namedKey(channelID, binName string) string {
	return channelID + "\x00" + binName
}

// Ingest runs one batch through the two-stage filter and deposits the
// survivors into a bin on the channel. With a binName, concurrent calls
// share one open bin; it is forwarded when the last overlapping call
// completes. Anonymous batches get their own bin, forwarded immediately.
func (t *Tunnel) Ingest(ctx context.Context, channelID string, suggestions []triage.Suggestion, binName string, useAI bool) (Result, error) {
	t.mu.Lock()
	if _, ok := t.channels[channelID]; !ok {
		t.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	t.mu.Unlock()

	for i, s := range suggestions {
		if err := s.Validate(); err != nil {
			return Result{}, fmt.Errorf("suggestion %d: %w", i, err)
		}
	}

	key := ""
	if binName != "" {
		key = namedKey(channelID, binName)
		t.mu.Lock()
		t.pending[key]++
		t.mu.Unlock()
	}

	// Filtering happens outside the registry lock: stage 2 may hit the
	// network and must not serialize unrelated ingestions.
	survivors := t.filter.Filter(ctx, suggestions, useAI)

	var snapshot *triage.Bin
	res := Result{
		ChannelID:     channelID,
		CriticalCount: len(survivors),
		FilteredOut:   len(suggestions) - len(survivors),
	}

	t.mu.Lock()
	t.totalSuggestions += int64(len(suggestions))
	t.criticalSuggestions += int64(len(survivors))

	var bin *triage.Bin
	if len(survivors) > 0 {
		if key != "" {
			if id, ok := t.openNamed[key]; ok {
				bin = t.bins[id]
			}
		}
		if bin == nil {
			bin = triage.NewBin(channelID, binName)
			t.bins[bin.ID] = bin
			t.binOrder = append(t.binOrder, bin.ID)
			if key != "" {
				t.openNamed[key] = bin.ID
			}
		}
		bin.Suggestions = append(bin.Suggestions, survivors...)
		res.BinID = bin.ID
	}

	if key != "" {
		t.pending[key]--
		if t.pending[key] == 0 {
			delete(t.pending, key)
			if id, ok := t.openNamed[key]; ok {
				delete(t.openNamed, key)
				b := t.bins[id]
				b.Status = triage.BinForwarded
				snap := b.Clone()
				snapshot = &snap
			}
		}
	} else if bin != nil {
		bin.Status = triage.BinForwarded
		snap := bin.Clone()
		snapshot = &snap
	}
	callbacks := t.callbacks
	t.mu.Unlock()

	if len(survivors) == 0 {
		res.Status = StatusNoCriticalIssues
	} else {
		res.Status = StatusSuccess
	}

	if snapshot != nil {
		// Fire-and-forget: the caller gets its result without waiting for
		// downstream delivery, but callbacks run in registration order.
		go t.dispatch(*snapshot, callbacks)
	}

	t.log.Info("ingested batch",
		zap.String("channel", channelID),
		zap.String("status", res.Status),
		zap.Int("critical", res.CriticalCount),
		zap.Int("filtered_out", res.FilteredOut))
	return res, nil
}

// ProcessSingle is the batch path specialized to one suggestion.
func (t *Tunnel) ProcessSingle(ctx context.Context, channelID string, s triage.Suggestion, useAI bool) (Result, error) {
	return t.Ingest(ctx, channelID, []triage.Suggestion{s}, "", useAI)
}

func (t *Tunnel) dispatch(bin triage.Bin, callbacks []ForwardFunc) {
	for i, fn := range callbacks {
		if err := fn(bin); err != nil {
			t.log.Error("forward callback failed",
				zap.String("bin", bin.ID),
				zap.Int("callback", i),
				zap.Error(err))
		}
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// CreateChannel registers a new channel and returns it.
func (t *Tunnel) CreateChannel(name, description string, criteria map[string]string) triage.Channel {
	ch := triage.NewChannel(name, description, criteria)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seedChannel(ch)
	t.log.Info("channel created", zap.String("id", ch.ID), zap.String("name", name))
	return ch
}

// Channel fetches one channel by id.
func (t *Tunnel) Channel(id string) (triage.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[id]
	if !ok {
		return triage.Channel{}, fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}
	return ch, nil
}

// Channels lists every channel in creation order.
func (t *Tunnel) Channels() []triage.Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]triage.Channel, 0, len(t.channelOrder))
	for _, id := range t.channelOrder {
		out = append(out, t.channels[id])
	}
	return out
}

// Bins lists bins in creation order, optionally filtered by channel.
func (t *Tunnel) Bins(channelID string) []triage.Bin {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]triage.Bin, 0, len(t.binOrder))
	for _, id := range t.binOrder {
		b := t.bins[id]
		if channelID != "" && b.ChannelID != channelID {
			continue
		}
		out = append(out, b.Clone())
	}
	return out
}

// Bin fetches one bin by id.
func (t *Tunnel) Bin(id string) (triage.Bin, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bins[id]
	if !ok {
		return triage.Bin{}, false
	}
	return b.Clone(), true
}

// Snapshot returns aggregate statistics.
func (t *Tunnel) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Stats{
		Channels:            len(t.channels),
		Bins:                len(t.bins),
		TotalSuggestions:    t.totalSuggestions,
		CriticalSuggestions: t.criticalSuggestions,
	}
	for _, b := range t.bins {
		if b.Status == triage.BinOpen {
			s.ActiveBins++
		}
	}
	return s
}
