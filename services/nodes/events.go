package nodes

import (
	"time"

	"github.com/google/uuid"
)

// Subjects published on the event bus.
const (
	SubjectPrefix     = "pxepilot.nodes."
	SubjectDiscovered = SubjectPrefix + "discovered"
	SubjectBooted     = SubjectPrefix + "booted"
	SubjectReinstall  = SubjectPrefix + "reinstall"
	SubjectAll        = SubjectPrefix + ">"
)

// Script names reported in boot events and metrics.
const (
	ScriptInstaller = "installer"
	ScriptLocalDisk = "localdisk"
)

// DiscoveredEvent is published when a boot request creates a node.
type DiscoveredEvent struct {
	ID  uuid.UUID `json:"id"`
	MAC string    `json:"mac"`
	At  time.Time `json:"at"`
}

// BootedEvent is published for every served boot script.
type BootedEvent struct {
	ID       uuid.UUID `json:"id"`
	MAC      string    `json:"mac"`
	Script   string    `json:"script"`
	ClientIP string    `json:"client_ip"`
	At       time.Time `json:"at"`
}

// ReinstallEvent is published when the reinstall flag is set or cleared.
type ReinstallEvent struct {
	ID        uuid.UUID `json:"id"`
	MAC       string    `json:"mac"`
	Reinstall bool      `json:"reinstall"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}
