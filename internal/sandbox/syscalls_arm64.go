package sandbox

import "golang.org/x/sys/unix"

// fstatat carries a different name per architecture in the kernel headers.
const sysFstatat = unix.SYS_FSTATAT

// archPassthrough lists pass-through syscalls that only exist on this
// architecture.
var archPassthrough []int
