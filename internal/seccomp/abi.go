// Package seccomp installs the guest's syscall filter and speaks the kernel's
// user-notification protocol on the listener fd.
package seccomp

// The notification records are laid out here explicitly to match
// <linux/seccomp.h> bit for bit; the ioctl numbers in golang.org/x/sys/unix
// already encode these sizes.

// Data mirrors struct seccomp_data: the syscall a guest thread was stopped on.
type Data struct {
	NR   int32
	Arch uint32
	IP   uint64
	Args [6]uint64
}

// Notif mirrors struct seccomp_notif: one trapped syscall. The ID is opaque
// and must be echoed in the reply; the kernel discards the reply if the guest
// was signalled in between.
type Notif struct {
	ID    uint64
	Pid   uint32
	Flags uint32
	Data  Data
}

// Resp mirrors struct seccomp_notif_resp. Error carries a negated errno per
// the kernel ABI; Flags may request native execution instead.
type Resp struct {
	ID    uint64
	Val   int64
	Error int32
	Flags uint32
}

// FlagContinue asks the kernel to execute the trapped syscall natively
// (SECCOMP_USER_NOTIF_FLAG_CONTINUE).
const FlagContinue = 0x1
