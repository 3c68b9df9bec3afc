package envelope

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ruteri/guardian-recovery/interfaces"
)

const previewBytes = 4

const printoutWarning = "WARNING: this sheet is one share of your recovery key. " +
	"Anyone holding enough shares can rebuild your key. " +
	"Store it offline, never photograph it, and destroy it when you rotate your shares."

// Transcript renders the human-readable part of a printout. The share value
// appears only as a short hex preview.
func Transcript(share interfaces.Share, createdAt time.Time) string {
	var b strings.Builder
	b.WriteString("GUARDIAN RECOVERY - EMERGENCY SHARE\n")
	fmt.Fprintf(&b, "Owner: %s\n", share.OwnerUserID)
	fmt.Fprintf(&b, "Share ID: %s\n", share.ID)
	fmt.Fprintf(&b, "Share index: %d\n", share.Index)
	fmt.Fprintf(&b, "Threshold: %d of %d shares\n", share.Threshold, share.TotalShares)
	fmt.Fprintf(&b, "Value preview: %s\n", valuePreview(share.Value))
	fmt.Fprintf(&b, "Created: %s\n", createdAt.UTC().Format(time.RFC3339Nano))
	b.WriteString(printoutWarning)
	b.WriteString("\n")
	return b.String()
}

func valuePreview(value []byte) string {
	n := min(len(value), previewBytes)
	return hex.EncodeToString(value[:n]) + "…"
}
