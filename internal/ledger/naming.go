// SPDX-License-Identifier: MIT

package ledger

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Artifact prefixes. Objects under the first three count against quota;
// final-cards holds browser-composited share assets and is never counted.
const (
	prefixCards      = "cards/"
	prefixVideos     = "videos/"
	prefixPrintQueue = "print-queue/"
	prefixFinalCards = "final-cards/"
	prefixPending    = "pending-overrides/"
)

const sessionInfix = "_override"

// pendingKey is the well-known marker path for a client identity.
func pendingKey(clientIP string) string {
	return prefixPending + clientIP + "_pending"
}

// sessionID builds "<ip>_override<N>".
func sessionID(clientIP string, n int) string {
	return fmt.Sprintf("%s%s%d", clientIP, sessionInfix, n)
}

// timestamp renders the artifact timestamp segment: UTC seconds plus a
// 4-hex entropy tail so two writers in the same second cannot collide.
func timestamp(now time.Time, entropy string) string {
	return now.UTC().Format("20060102_150405") + "_" + entropy
}

// randomEntropy returns 4 hex characters.
func randomEntropy() string {
	return uuid.NewString()[:4]
}

// invocationEntropy derives the entropy tail from a provider invocation id,
// so repeated polls of the same invocation produce an identifiable suffix.
func invocationEntropy(invocationID string) string {
	h := fnv.New32a()
	h.Write([]byte(invocationID))
	return fmt.Sprintf("%04x", h.Sum32()&0xffff)
}

func cardKey(session string, k int, ts string) string {
	return fmt.Sprintf("%s%s_card_%d_%s.png", prefixCards, session, k, ts)
}

func videoKey(session string, k int, ts string) string {
	return fmt.Sprintf("%s%s_video_%d_%s.mp4", prefixVideos, session, k, ts)
}

func printKey(session string, cardNumber, printNumber int, ts string) string {
	return fmt.Sprintf("%s%s_card_%d_print_%d_%s.png", prefixPrintQueue, session, cardNumber, printNumber, ts)
}

func finalCardKey(session string, ts string) string {
	return fmt.Sprintf("%s%s_final_%s.png", prefixFinalCards, session, ts)
}

// countPrefix is the List prefix that counts one kind for one session. The
// trailing kind marker matters: "<ip>_override1" is a string prefix of
// "<ip>_override10", but "<ip>_override1_card_" is not a prefix of
// "<ip>_override10_card_".
func countPrefix(kind Kind, session string) string {
	switch kind {
	case KindCard:
		return prefixCards + session + "_card_"
	case KindVideo:
		return prefixVideos + session + "_video_"
	case KindPrint:
		return prefixPrintQueue + session + "_card_"
	}
	return ""
}

// parseOverrideN extracts N from an artifact key for the given client, or 0
// when the key belongs to someone else or is malformed.
func parseOverrideN(key, clientIP string) int {
	base := key
	if i := strings.IndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	rest, ok := strings.CutPrefix(base, clientIP+sessionInfix)
	if !ok {
		return 0
	}
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
