// Package seccomp assembles the syscall filters applied to script runner
// containers. Profiles are deny-by-default: the runner gets the syscalls a
// Starlark interpreter and its HTTP client need, and nothing else.
package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// ProfileBuilder accumulates syscall rules into an OCI seccomp profile.
// Rules are evaluated in the order added; the default action for anything
// unmatched is ENOSYS-style errno denial.
type ProfileBuilder struct {
	profile *specs.LinuxSeccomp
}

// NewBuilder starts an empty deny-by-default profile for the architectures
// the runner image is published for.
func NewBuilder() *ProfileBuilder {
	return &ProfileBuilder{
		profile: &specs.LinuxSeccomp{
			DefaultAction: specs.ActErrno,
			Architectures: []specs.Arch{
				specs.ArchX86_64,
				specs.ArchAARCH64,
			},
		},
	}
}

// AllowSyscalls permits the named syscalls unconditionally.
func (b *ProfileBuilder) AllowSyscalls(names ...string) *ProfileBuilder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: specs.ActAllow,
	})
	return b
}

// BlockSyscalls denies the named syscalls with errno. Scripts see a failed
// call rather than a killed process.
func (b *ProfileBuilder) BlockSyscalls(names ...string) *ProfileBuilder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: specs.ActErrno,
	})
	return b
}

// LogSyscalls permits the named syscalls but records each use in the kernel
// audit log. Used when tightening a profile against real script traffic.
func (b *ProfileBuilder) LogSyscalls(names ...string) *ProfileBuilder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: specs.ActLog,
	})
	return b
}

// TrapSyscalls raises SIGSYS on the named syscalls. Reserved for calls that
// indicate a sandbox escape attempt, where killing the run is the point.
func (b *ProfileBuilder) TrapSyscalls(names ...string) *ProfileBuilder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: specs.ActTrap,
	})
	return b
}

// SyscallArg constrains one argument of a syscall rule.
type SyscallArg struct {
	Index uint   // argument position, 0 through 5
	Value uint64 // value compared against
	Op    specs.LinuxSeccompOperator
}

// AllowSyscallWithArgs permits a syscall only when every argument constraint
// matches.
func (b *ProfileBuilder) AllowSyscallWithArgs(name string, args []SyscallArg) *ProfileBuilder {
	specArgs := make([]specs.LinuxSeccompArg, len(args))
	for i, a := range args {
		specArgs[i] = specs.LinuxSeccompArg{
			Index: a.Index,
			Value: a.Value,
			Op:    a.Op,
		}
	}
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  []string{name},
		Action: specs.ActAllow,
		Args:   specArgs,
	})
	return b
}

// WithArchitectures replaces the default architecture list.
func (b *ProfileBuilder) WithArchitectures(archs ...specs.Arch) *ProfileBuilder {
	b.profile.Architectures = archs
	return b
}

// Build returns the assembled profile.
func (b *ProfileBuilder) Build() *specs.LinuxSeccomp {
	return b.profile
}
