package vault

import (
	"context"
	"fmt"

	"github.com/Data-Corruption/stdx/xlog"
	"github.com/robfig/cron/v3"
)

// staleAgeDays is the credential age past which the operator gets nudged.
const staleAgeDays = 30

// AlertFunc receives operator alerts from the scanner. Must not block.
type AlertFunc func(kind, detail string)

// StartScanner schedules a daily vault sweep on c. Stale credentials and
// failed revalidations are reported; nothing is auto-deleted.
func (v *Vault) StartScanner(ctx context.Context, c *cron.Cron, prober Prober, alert AlertFunc) error {
	_, err := c.AddFunc("@daily", func() {
		v.Scan(ctx, prober, alert)
	})
	return err
}

// Scan runs one sweep over all stored slots.
func (v *Vault) Scan(ctx context.Context, prober Prober, alert AlertFunc) {
	for _, slot := range v.linkage.Slots {
		if !v.Has(slot.Name) {
			continue
		}
		meta, err := v.ReadMeta(slot.Name)
		if err != nil {
			alert("cookie_meta_unreadable", fmt.Sprintf("slot %s: %v", slot.Name, err))
			continue
		}

		age := int(v.now().Sub(meta.CreatedAt).Hours() / 24)
		if age > staleAgeDays {
			alert("cookie_stale", fmt.Sprintf("slot %s is %d days old", slot.Name, age))
		}

		result, err := v.Validate(ctx, slot.Name, prober)
		if err != nil {
			alert("cookie_revalidation_error", fmt.Sprintf("slot %s: %v", slot.Name, err))
			continue
		}
		if result == ValidationFailed {
			// Reported but kept; the operator decides whether to delete.
			alert("cookie_revalidation_failed", fmt.Sprintf("slot %s failed revalidation", slot.Name))
		}
	}
	xlog.Debugf(ctx, "vault: scan complete")
}
