// Package discovery provides mDNS-based discovery of GDB remote stubs.
//
// Stubs started for analysis (gdbserver in a VM, an emulator, a board) can be
// advertised as "_gdbremote._tcp" services so that the CLI finds them
// without knowing their address. The TXT record carries optional metadata:
//
//	arch=x86_64 pid=4242 binary=/tmp/not_packed_elf64
//
// # Usage Example
//
//	scanner := discovery.NewScanner()
//	scanner.Arch = "x86_64"
//	stubs, err := scanner.ScanForStubs(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, stub := range stubs {
//	    fmt.Println(stub.Instance, stub.Address())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Stubs must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
