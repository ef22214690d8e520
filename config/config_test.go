package config_test

import (
	"testing"

	"github.com/xskforge/xskforge/config"
)

func TestParseBasicInterfaces(t *testing.T) {
	cfg, err := config.Parse("xskforge", []string{"-i", "eth0", "-i", "eth1:c"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Interfaces) != 2 {
		t.Fatalf("got %d interfaces, want 2", len(cfg.Interfaces))
	}
	if cfg.Interfaces[0].Name != "eth0" || cfg.Interfaces[0].Bind != config.BindAuto {
		t.Errorf("iface[0] = %+v", cfg.Interfaces[0])
	}
	if cfg.Interfaces[1].Name != "eth1" || cfg.Interfaces[1].Bind != config.BindForceCopy {
		t.Errorf("iface[1] = %+v", cfg.Interfaces[1])
	}
}

func TestParseRejectsMissingInterface(t *testing.T) {
	if _, err := config.Parse("xskforge", nil); err == nil {
		t.Fatal("expected an error when no --iface was given")
	}
}

func TestParseRejectsNonPowerOfTwoFrameSize(t *testing.T) {
	_, err := config.Parse("xskforge", []string{"-i", "eth0", "-f", "1500"})
	if err == nil {
		t.Fatal("expected an error for a non-power-of-two frame size")
	}
}

func TestParseAllowsNonPowerOfTwoFrameSizeWhenUnaligned(t *testing.T) {
	_, err := config.Parse("xskforge", []string{"-i", "eth0", "-f", "1500", "-u"})
	if err != nil {
		t.Fatalf("unexpected error with --unaligned: %v", err)
	}
}

func TestParseRejectsBatchSizeOutOfRange(t *testing.T) {
	if _, err := config.Parse("xskforge", []string{"-i", "eth0", "-b", "0"}); err == nil {
		t.Fatal("expected an error for batch size 0")
	}
	if _, err := config.Parse("xskforge", []string{"-i", "eth0", "-b", "512"}); err == nil {
		t.Fatal("expected an error for batch size 512")
	}
}

func TestParseRejectsUnknownMode(t *testing.T) {
	if _, err := config.Parse("xskforge", []string{"-i", "eth0", "-M", "BOGUS"}); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestParseRejectsZeroCopyUnderSkbMode(t *testing.T) {
	_, err := config.Parse("xskforge", []string{"-i", "eth0:z", "-S"})
	if err == nil {
		t.Fatal("expected an error when --xdp-skb contradicts a :z interface hint")
	}
}

func TestParseMetricsAddrDefaultsToDisabled(t *testing.T) {
	cfg, err := config.Parse("xskforge", []string{"-i", "eth0"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.MetricsAddr != "" {
		t.Fatalf("MetricsAddr = %q, want empty (disabled) unless --metrics-addr is set", cfg.MetricsAddr)
	}
}

func TestParseMetricsAddrHonorsFlag(t *testing.T) {
	cfg, err := config.Parse("xskforge", []string{"-i", "eth0", "--metrics-addr", ":9420"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.MetricsAddr != ":9420" {
		t.Fatalf("MetricsAddr = %q, want :9420", cfg.MetricsAddr)
	}
}

func TestResolvedBindModeDefaultsToZeroCopy(t *testing.T) {
	iface := config.Interface{Name: "eth0", Bind: config.BindAuto}
	if got := iface.ResolvedBindMode(false); got != config.BindForceZeroCopy {
		t.Errorf("ResolvedBindMode(false) = %v, want BindForceZeroCopy", got)
	}
	if got := iface.ResolvedBindMode(true); got != config.BindForceCopy {
		t.Errorf("ResolvedBindMode(true) = %v, want BindForceCopy", got)
	}
}
