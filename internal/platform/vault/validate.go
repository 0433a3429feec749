package vault

import (
	"context"
	"time"

	"github.com/Data-Corruption/stdx/xlog"
)

// probeTimeout bounds one validation probe extraction.
const probeTimeout = 30 * time.Second

// Prober performs a non-downloading metadata extraction with a cookie file.
// Implemented by the extractor wrapper; abstracted here so the vault has no
// dependency on it.
type Prober interface {
	ProbeWithCookies(ctx context.Context, url, cookieFile string) error
}

// Validate grades the credential stored in slot.
//
// full: the slot's probe URL extracted metadata without error.
// soft: the slot's essential cookie names are all present, even if no probe
// succeeded or the slot has no stable probe URL.
// failed: neither.
//
// The metadata sidecar is updated with the result.
func (v *Vault) Validate(ctx context.Context, slotName string, prober Prober) (ValidationType, error) {
	slot, ok := v.linkage.SlotByName(slotName)
	if !ok {
		return ValidationFailed, ErrSlotAbsent
	}
	meta, err := v.ReadMeta(slotName)
	if err != nil {
		return ValidationFailed, err
	}

	result := ValidationFailed

	if slot.ProbeURL != "" && prober != nil {
		probeErr := v.WithPlaintext(slotName, func(cookieFile string) error {
			pCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			return prober.ProbeWithCookies(pCtx, slot.ProbeURL, cookieFile)
		})
		if probeErr == nil {
			result = ValidationFull
		} else {
			xlog.Warnf(ctx, "vault: full validation probe failed for slot %s: %v", slotName, probeErr)
		}
	}

	if result != ValidationFull {
		plaintext, err := v.Decrypt(slotName)
		if err != nil {
			return ValidationFailed, err
		}
		cookies, err := ParseNetscape(string(plaintext), v.now())
		if err == nil && HasAll(cookies, slot.EssentialCookies) {
			result = ValidationSoft
		}
	}

	now := v.now()
	meta.Validated = result == ValidationFull || result == ValidationSoft
	meta.ValidationType = result
	meta.LastValidatedAt = &now
	if err := v.writeMeta(slotName, meta); err != nil {
		return result, err
	}

	xlog.Infof(ctx, "vault: slot %s validated as %s", slotName, result)
	return result, nil
}
