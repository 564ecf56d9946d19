package sandbox

import "golang.org/x/sys/unix"

// fstatat carries a different name per architecture in the kernel headers.
const sysFstatat = unix.SYS_NEWFSTATAT

// archPassthrough lists pass-through syscalls that only exist on this
// architecture.
var archPassthrough = []int{unix.SYS_ARCH_PRCTL}
