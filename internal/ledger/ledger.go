// SPDX-License-Identifier: MIT

// Package ledger accounts per-session quota without a database: the artifact
// names in the object store are the ledger. A caller's session is
// "<ip>_override<N>"; staff overrides advance N through a small pending
// marker object that the next counted artifact write consumes. Counts
// self-heal because every check lists live object names.
package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eventkiosk/cardforge/internal/log"
	"github.com/eventkiosk/cardforge/internal/objstore"
)

// Kind is one quota-counted artifact family.
type Kind string

const (
	KindCard  Kind = "card"
	KindVideo Kind = "video"
	KindPrint Kind = "print"
)

var (
	artifactsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardforge_artifacts_written_total",
		Help: "Artifacts written to the object store.",
	}, []string{"kind"})
	quotaDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cardforge_quota_denied_total",
		Help: "Requests refused because the session quota was exhausted.",
	}, []string{"kind"})
	overridesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardforge_overrides_applied_total",
		Help: "Staff overrides applied.",
	})
)

// Limits are the per-session artifact allowances.
type Limits struct {
	Cards  int
	Videos int
	Prints int
}

// DefaultLimits match the kiosk deployment: five cards, three videos, one
// print per session.
func DefaultLimits() Limits {
	return Limits{Cards: 5, Videos: 3, Prints: 1}
}

func (l Limits) forKind(kind Kind) int {
	switch kind {
	case KindCard:
		return l.Cards
	case KindVideo:
		return l.Videos
	case KindPrint:
		return l.Prints
	}
	return 0
}

// Remaining is the client-facing unused allowance per kind.
type Remaining struct {
	Cards  int `json:"cards"`
	Videos int `json:"videos"`
	Prints int `json:"prints"`
}

// Usage is one session's consumption snapshot.
type Usage struct {
	Session string
	Cards   int
	Videos  int
	Prints  int
}

func (u *Usage) used(kind Kind) int {
	switch kind {
	case KindCard:
		return u.Cards
	case KindVideo:
		return u.Videos
	case KindPrint:
		return u.Prints
	}
	return 0
}

// QuotaError reports an exhausted kind. The API maps it to 429.
type QuotaError struct {
	Kind  Kind
	Limit int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exhausted (limit %d)", e.Kind, e.Limit)
}

// Meta is attached to written artifacts as object metadata.
type Meta struct {
	Prompt      string
	DisplayName string
	UserNumber  int
	DeviceID    string
}

const metaPromptMax = 256

func (m Meta) toObjectMetadata(session string) map[string]string {
	out := map[string]string{"session": session}
	if m.Prompt != "" {
		prompt := m.Prompt
		if len(prompt) > metaPromptMax {
			prompt = prompt[:metaPromptMax]
		}
		out["prompt"] = prompt
	}
	if m.DisplayName != "" {
		out["display-name"] = m.DisplayName
	}
	if m.UserNumber > 0 {
		out["user-number"] = strconv.Itoa(m.UserNumber)
	}
	if m.DeviceID != "" {
		out["device-id"] = m.DeviceID
	}
	return out
}

// Ledger resolves sessions, checks quota and names new artifacts.
type Ledger struct {
	store   objstore.Store
	limits  Limits
	now     func() time.Time
	entropy func() string
}

// Option adjusts a Ledger, mainly for tests.
type Option func(*Ledger)

// WithClock overrides the time source used for artifact timestamps.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.now = clock }
}

// WithEntropy overrides the 4-hex entropy source used in artifact names.
func WithEntropy(fn func() string) Option {
	return func(l *Ledger) { l.entropy = fn }
}

// New builds a Ledger over the given object store.
func New(store objstore.Store, limits Limits, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		limits:  limits,
		now:     time.Now,
		entropy: randomEntropy,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CurrentSession resolves the caller's session id. A readable pending marker
// wins; otherwise the maximum override generation observed across counted
// artifacts; otherwise generation 1.
func (l *Ledger) CurrentSession(ctx context.Context, clientIP string) (string, error) {
	if n, ok, err := l.readPending(ctx, clientIP); err != nil {
		return "", err
	} else if ok {
		return sessionID(clientIP, n), nil
	}
	n, err := l.maxObservedOverride(ctx, clientIP)
	if err != nil {
		return "", err
	}
	if n < 1 {
		n = 1
	}
	return sessionID(clientIP, n), nil
}

// readPending returns the marker's session number when present and parseable.
// An unreadable marker is treated as absent so a corrupt write cannot wedge
// the client.
func (l *Ledger) readPending(ctx context.Context, clientIP string) (int, bool, error) {
	data, err := l.store.Get(ctx, pendingKey(clientIP))
	if err == objstore.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read pending marker: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 1 {
		logger := log.WithComponent("ledger")
		logger.Warn().
			Str(log.FieldClientIP, clientIP).
			Str("marker", string(data)).
			Msg("unparseable pending marker, falling back to artifact scan")
		return 0, false, nil
	}
	return n, true, nil
}

// maxObservedOverride scans every counted prefix for the highest override
// generation this client has produced artifacts under.
func (l *Ledger) maxObservedOverride(ctx context.Context, clientIP string) (int, error) {
	highest := 0
	for _, prefix := range []string{prefixCards, prefixVideos, prefixPrintQueue} {
		infos, err := l.store.List(ctx, prefix+clientIP+sessionInfix)
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", prefix, err)
		}
		for _, info := range infos {
			if n := parseOverrideN(info.Key, clientIP); n > highest {
				highest = n
			}
		}
	}
	return highest, nil
}

// Usage lists live artifact counts for the caller's current session.
func (l *Ledger) Usage(ctx context.Context, clientIP string) (*Usage, error) {
	session, err := l.CurrentSession(ctx, clientIP)
	if err != nil {
		return nil, err
	}
	return l.usageForSession(ctx, session)
}

func (l *Ledger) usageForSession(ctx context.Context, session string) (*Usage, error) {
	u := &Usage{Session: session}
	for _, kind := range []Kind{KindCard, KindVideo, KindPrint} {
		infos, err := l.store.List(ctx, countPrefix(kind, session))
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", kind, err)
		}
		switch kind {
		case KindCard:
			u.Cards = len(infos)
		case KindVideo:
			u.Videos = len(infos)
		case KindPrint:
			u.Prints = len(infos)
		}
	}
	return u, nil
}

// Remaining computes the unused allowance for the caller's current session.
func (l *Ledger) Remaining(ctx context.Context, clientIP string) (Remaining, string, error) {
	u, err := l.Usage(ctx, clientIP)
	if err != nil {
		return Remaining{}, "", err
	}
	return l.remainingFor(u), u.Session, nil
}

func (l *Ledger) remainingFor(u *Usage) Remaining {
	return Remaining{
		Cards:  floorZero(l.limits.Cards - u.Cards),
		Videos: floorZero(l.limits.Videos - u.Videos),
		Prints: floorZero(l.limits.Prints - u.Prints),
	}
}

// CheckQuota verifies the caller still has allowance for kind, returning the
// live usage snapshot. Exhaustion yields a *QuotaError.
func (l *Ledger) CheckQuota(ctx context.Context, clientIP string, kind Kind) (*Usage, error) {
	u, err := l.Usage(ctx, clientIP)
	if err != nil {
		return nil, err
	}
	limit := l.limits.forKind(kind)
	if u.used(kind) >= limit {
		quotaDenied.WithLabelValues(string(kind)).Inc()
		return nil, &QuotaError{Kind: kind, Limit: limit}
	}
	return u, nil
}

// Limits returns the configured per-session allowances.
func (l *Ledger) Limits() Limits { return l.limits }

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
