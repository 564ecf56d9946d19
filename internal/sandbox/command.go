package sandbox

import (
	"fmt"
	"path/filepath"
)

// CommandBlockedError is returned when a guest command is blocked by policy.
type CommandBlockedError struct {
	Command string
	Matched string
}

func (e *CommandBlockedError) Error() string {
	return fmt.Sprintf("command blocked by policy: %q matches %q", e.Command, e.Matched)
}

// DeniedCommands lists program names never launched as a guest. The syscall
// policy would neuter them anyway; refusing up front gives a clear error
// instead of a stream of EPERMs.
var DeniedCommands = []string{
	// System control
	"shutdown",
	"reboot",
	"halt",
	"poweroff",
	// Kernel modules
	"insmod",
	"rmmod",
	"modprobe",
	"kexec",
	// Filesystems and partitions
	"mkfs",
	"fdisk",
	"parted",
	"mount",
	"umount",
	// Namespace plumbing
	"chroot",
	"unshare",
	"nsenter",
	"pivot_root",
}

// CheckCommand checks a guest argv against the deny list. The program name
// matches with or without a leading path.
func CheckCommand(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	name := filepath.Base(argv[0])
	for _, deny := range DeniedCommands {
		if name == deny {
			return &CommandBlockedError{Command: argv[0], Matched: deny}
		}
	}
	return nil
}
