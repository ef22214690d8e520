//go:build linux

package control

import (
	"bytes"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
)

// loadSpec reads and parses the eBPF object file shared by both the XDP
// ingress program and the TC egress program; each attach site instantiates
// its own ebpf.Collection from it so their maps are never aliased.
func loadSpec(path string) (*ebpf.CollectionSpec, error) {
	objBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("control: reading eBPF object %q: %w", path, err)
	}
	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(objBytes))
	if err != nil {
		return nil, fmt.Errorf("control: parsing eBPF object %q: %w", path, err)
	}
	return spec, nil
}
