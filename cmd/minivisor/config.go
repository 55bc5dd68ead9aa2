package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the VM launch configuration SPEC_FULL.md §2 calls for,
// loaded via gopkg.in/yaml.v3 (carried by tinyrange-cc).
type Config struct {
	KernelImage  string `yaml:"kernel_image"`
	DeviceTree   string `yaml:"device_tree"`
	BlockImage   string `yaml:"block_image"`
	GuestRAMSize uint64 `yaml:"guest_ram_size"`
	VCPUCount    int    `yaml:"vcpu_count"`
	Debug        bool   `yaml:"debug"`
}

const defaultGuestRAMSize = 0x10000000 // 256 MiB, spec.md §6's default

func loadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("minivisor: read config %s: %w", path, err)
	}
	cfg := Config{GuestRAMSize: defaultGuestRAMSize, VCPUCount: 1}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("minivisor: parse config %s: %w", path, err)
	}
	if cfg.KernelImage == "" || cfg.DeviceTree == "" || cfg.BlockImage == "" {
		return Config{}, fmt.Errorf("minivisor: config %s must set kernel_image, device_tree and block_image", path)
	}
	return cfg, nil
}
