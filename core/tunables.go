package core

import "cns/pkg/utils"

// Build-time constants with env-var overrides. These are knobs, not a
// configuration subsystem — spec.md §1 places configuration loaders out of
// scope as an external collaborator, so there is deliberately no file
// format, no hierarchical merge, and no hot reload here.
var (
	// EntityCap bounds the dense entity-ID space used as bit-matrix row/col
	// indices (spec.md §3, "typical cap: 64 or 4096, a power of two").
	EntityCap = utils.EnvOrDefaultInt("CNS_ENTITY_CAP", 4096)

	// MailboxCapacity is the fixed ring size for a fiber's mailbox
	// (spec.md §4.6, "power-of-two, default 256").
	MailboxCapacity = utils.EnvOrDefaultInt("CNS_MAILBOX_CAPACITY", 256)

	// MaxHops bounds entanglement-signal propagation (spec.md §4.6,
	// "default 3").
	MaxHops = utils.EnvOrDefaultInt("CNS_MAX_HOPS", 3)

	// TickBudget is the hard per-semantic-step budget (spec.md §1, "8T").
	TickBudget = utils.EnvOrDefaultInt("CNS_TICK_BUDGET", 8)

	// MaxDarkActivationsPerStep is the configured cap on dormant-fiber
	// activations per scheduler step (spec.md §4.6, "At most 4... per
	// step"). The scheduler does not read it: every signal delivered in a
	// step wakes its target fiber, however many there are.
	MaxDarkActivationsPerStep = utils.EnvOrDefaultInt("CNS_MAX_DARK_ACTIVATIONS", 4)

	// MaxDequeuePerStep bounds mailbox messages drained per scheduler step
	// (spec.md §4.6, "drains up to 8 messages per scheduler step").
	MaxDequeuePerStep = utils.EnvOrDefaultInt("CNS_MAX_DEQUEUE_PER_STEP", 8)
)

func init() {
	if EntityCap <= 0 || (EntityCap&(EntityCap-1)) != 0 {
		EntityCap = 4096
	}
	if MailboxCapacity <= 0 || (MailboxCapacity&(MailboxCapacity-1)) != 0 {
		MailboxCapacity = 256
	}
}
