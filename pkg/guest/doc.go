// Package guest provides reference implementations of the machine-side
// collaborators a bus drives: physical memory with MMIO redirection, a
// virtual clock, an interrupt controller and a machine control block.
//
// They are small enough for tests and for the standalone cosim-bus host;
// an emulator embedding the bus supplies its own.
package guest
