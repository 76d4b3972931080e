// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/eventkiosk/cardforge/internal/log"
	"github.com/eventkiosk/cardforge/internal/objstore"
)

const (
	contentTypePNG = "image/png"
	contentTypeMP4 = "video/mp4"
)

// PutCard writes a generated card image under the caller's current session
// and consumes any pending-override marker. Quota is checked at intake, not
// here: the dispatcher must be able to land work already admitted.
func (l *Ledger) PutCard(ctx context.Context, clientIP string, data []byte, meta Meta) (string, error) {
	u, err := l.Usage(ctx, clientIP)
	if err != nil {
		return "", err
	}
	key := cardKey(u.Session, u.Cards+1, timestamp(l.now(), l.entropy()))
	if err := l.store.Put(ctx, key, data, contentTypePNG, meta.toObjectMetadata(u.Session)); err != nil {
		return "", err
	}
	artifactsWritten.WithLabelValues(string(KindCard)).Inc()
	l.consumePending(ctx, clientIP)
	logger := log.WithComponent("ledger")
	logger.Info().
		Str(log.FieldSessionID, u.Session).
		Str(log.FieldArtifactKey, key).
		Str(log.FieldArtifactKind, string(KindCard)).
		Msg("artifact written")
	return key, nil
}

// PutFinalCard stores a browser-composited final card under the uncounted
// final-cards prefix. It neither consumes quota nor the pending marker.
func (l *Ledger) PutFinalCard(ctx context.Context, clientIP string, data []byte, meta Meta) (string, error) {
	session, err := l.CurrentSession(ctx, clientIP)
	if err != nil {
		return "", err
	}
	key := finalCardKey(session, timestamp(l.now(), l.entropy()))
	if err := l.store.Put(ctx, key, data, contentTypePNG, meta.toObjectMetadata(session)); err != nil {
		return "", err
	}
	logger := log.WithComponent("ledger")
	logger.Info().
		Str(log.FieldSessionID, session).
		Str(log.FieldArtifactKey, key).
		Msg("final card stored")
	return key, nil
}

// PutPrint writes a print-queue artifact carrying both the card number being
// printed and the session-wide print sequence, and consumes any pending
// marker. Returns the key and the assigned print number.
func (l *Ledger) PutPrint(ctx context.Context, clientIP string, data []byte, cardNumber int, meta Meta) (string, int, error) {
	u, err := l.Usage(ctx, clientIP)
	if err != nil {
		return "", 0, err
	}
	if cardNumber < 1 {
		cardNumber = 1
	}
	printNumber := u.Prints + 1
	key := printKey(u.Session, cardNumber, printNumber, timestamp(l.now(), l.entropy()))
	if err := l.store.Put(ctx, key, data, contentTypePNG, meta.toObjectMetadata(u.Session)); err != nil {
		return "", 0, err
	}
	artifactsWritten.WithLabelValues(string(KindPrint)).Inc()
	l.consumePending(ctx, clientIP)
	logger := log.WithComponent("ledger")
	logger.Info().
		Str(log.FieldSessionID, u.Session).
		Str(log.FieldArtifactKey, key).
		Str(log.FieldArtifactKind, string(KindPrint)).
		Int("print_number", printNumber).
		Msg("artifact written")
	return key, printNumber, nil
}

// PutVideoFromSource copies finished provider output into the session ledger.
// The entropy tail of the artifact name is derived from the invocation id, so
// a repeated poll of the same invocation finds the existing artifact instead
// of billing the session twice.
func (l *Ledger) PutVideoFromSource(ctx context.Context, clientIP, srcBucket, srcKey, invocationID string) (string, error) {
	u, err := l.Usage(ctx, clientIP)
	if err != nil {
		return "", err
	}

	suffix := "_" + invocationEntropy(invocationID) + ".mp4"
	existing, err := l.store.List(ctx, countPrefix(KindVideo, u.Session))
	if err != nil {
		return "", err
	}
	for _, info := range existing {
		if strings.HasSuffix(info.Key, suffix) {
			return info.Key, nil
		}
	}

	key := videoKey(u.Session, u.Videos+1, timestamp(l.now(), invocationEntropy(invocationID)))
	if err := l.store.CopyFrom(ctx, srcBucket, srcKey, key); err != nil {
		return "", fmt.Errorf("copy video output: %w", err)
	}
	artifactsWritten.WithLabelValues(string(KindVideo)).Inc()
	l.consumePending(ctx, clientIP)
	logger := log.WithComponent("ledger")
	logger.Info().
		Str(log.FieldSessionID, u.Session).
		Str(log.FieldArtifactKey, key).
		Str(log.FieldArtifactKind, string(KindVideo)).
		Str("source_key", srcKey).
		Msg("artifact written")
	return key, nil
}

// ApplyOverride opens the next session generation for the client: N is
// computed from artifacts only (never from the marker, so repeated applies
// advance by exactly one), and the marker is (re)written with the new
// generation. The marker never moves backward.
func (l *Ledger) ApplyOverride(ctx context.Context, clientIP string) (int, string, error) {
	observed, err := l.maxObservedOverride(ctx, clientIP)
	if err != nil {
		return 0, "", err
	}
	if observed < 1 {
		observed = 1
	}
	next := observed + 1
	if current, ok, err := l.readPending(ctx, clientIP); err != nil {
		return 0, "", err
	} else if ok && current > next {
		next = current
	}
	if err := l.store.Put(ctx, pendingKey(clientIP), []byte(strconv.Itoa(next)), "text/plain", nil); err != nil {
		return 0, "", fmt.Errorf("write pending marker: %w", err)
	}
	overridesApplied.Inc()
	logger := log.WithComponent("ledger")
	logger.Info().
		Str(log.FieldClientIP, clientIP).
		Int("override_number", next).
		Msg("override applied")
	return next, sessionID(clientIP, next), nil
}

// consumePending deletes the caller's marker after a counted artifact write.
// Failure is logged, not returned: the artifact is already durable and the
// next session resolution self-heals from object names.
func (l *Ledger) consumePending(ctx context.Context, clientIP string) {
	if err := l.store.Delete(ctx, pendingKey(clientIP)); err != nil && err != objstore.ErrNotFound {
		logger := log.WithComponent("ledger")
		logger.Warn().Err(err).
			Str(log.FieldClientIP, clientIP).
			Msg("failed to consume pending marker")
	}
}
